// Package control owns the curtailment setpoint: its durable store and the
// service that accepts signed commands to change it.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rohanbalixz/clad-pv/internal/model"
	"github.com/rohanbalixz/clad-pv/internal/storage"
)

var ErrOutOfRange = errors.New("curtailment out of range")

// ValidCurtailment reports whether c is a usable setpoint.
func ValidCurtailment(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}

// Store keeps the current curtailment in memory and on a Blob. Readers
// never block; writers are serialized.
type Store struct {
	blob   storage.Blob
	logger *slog.Logger

	mu  sync.Mutex
	cur atomic.Uint64 // math.Float64bits
}

// OpenStore loads the persisted setpoint. A missing, unreadable, malformed
// or out-of-range record yields 0.
func OpenStore(blob storage.Blob, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{blob: blob, logger: logger}
	s.cur.Store(math.Float64bits(s.load()))
	return s
}

func (s *Store) load() float64 {
	raw, err := s.blob.Read()
	if errors.Is(err, storage.ErrNotFound) {
		return 0
	}
	if err != nil {
		s.logger.Warn("control state unreadable, using 0", "error", err)
		return 0
	}
	var st model.ControlState
	if err := json.Unmarshal(raw, &st); err != nil {
		s.logger.Warn("control state malformed, using 0", "error", err)
		return 0
	}
	if !ValidCurtailment(st.Curtailment) {
		s.logger.Warn("control state out of range, using 0", "curtailment", st.Curtailment)
		return 0
	}
	return st.Curtailment
}

// Curtailment is the value in effect.
func (s *Store) Curtailment() float64 {
	return math.Float64frombits(s.cur.Load())
}

// Reload re-reads the blob, picking up edits made outside this process.
func (s *Store) Reload() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.load()
	s.cur.Store(math.Float64bits(c))
	return c
}

// Persist writes c to the blob without making it visible to readers.
// Callers follow up with Commit, or Persist the old value to undo.
func (s *Store) Persist(c float64) error {
	if !ValidCurtailment(c) {
		return fmt.Errorf("%w: %v", ErrOutOfRange, c)
	}
	raw, err := json.Marshal(model.ControlState{Curtailment: c})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob.WriteAtomic(raw)
}

// Commit makes c the value in effect. It does not touch the blob.
func (s *Store) Commit(c float64) {
	s.cur.Store(math.Float64bits(c))
}

// Set persists c and then makes it visible. On a write error the previous
// value stays in effect.
func (s *Store) Set(c float64) error {
	if err := s.Persist(c); err != nil {
		return err
	}
	s.Commit(c)
	return nil
}
