package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rohanbalixz/clad-pv/internal/audit"
	"github.com/rohanbalixz/clad-pv/internal/auth"
	"github.com/rohanbalixz/clad-pv/internal/model"
	"github.com/rohanbalixz/clad-pv/internal/schedule"
)

// StorageError means the command was valid but could not be made durable.
// The setpoint in effect is unchanged.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// Result codes, shared with the HTTP layer and metrics labels.
const (
	ResultAccepted      = "accepted"
	ResultStale         = "stale_timestamp"
	ResultBadSignature  = "bad_signature"
	ResultOutOfRange    = "out_of_range"
	ResultStorageError  = "storage_error"
	ResultInternalError = "internal_error"
)

// Kind maps a Submit error to its result code.
func Kind(err error) string {
	var se *StorageError
	switch {
	case err == nil:
		return ResultAccepted
	case errors.Is(err, ErrOutOfRange):
		return ResultOutOfRange
	case errors.Is(err, auth.ErrStaleTimestamp):
		return ResultStale
	case errors.Is(err, auth.ErrBadSignature):
		return ResultBadSignature
	case errors.As(err, &se):
		return ResultStorageError
	default:
		return ResultInternalError
	}
}

// Recorder receives command outcomes. Satisfied by *metrics.Metrics.
type Recorder interface {
	ObserveCommand(result string)
}

type Options struct {
	// Freshness is the accepted |now - ts|. Defaults to auth.DefaultFreshness.
	Freshness time.Duration
	Clock     schedule.Clock
	Logger    *slog.Logger
	Recorder  Recorder
}

// Service applies signed curtailment commands.
type Service struct {
	store *Store
	trail *audit.Trail
	keys  auth.Keyring
	opts  Options

	mu sync.Mutex
}

func NewService(store *Store, trail *audit.Trail, keys auth.Keyring, opts Options) (*Service, error) {
	if store == nil || trail == nil || keys == nil {
		return nil, errors.New("control: store, trail and keyring are required")
	}
	if opts.Freshness <= 0 {
		opts.Freshness = auth.DefaultFreshness
	}
	if opts.Clock == nil {
		opts.Clock = schedule.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{store: store, trail: trail, keys: keys, opts: opts}, nil
}

// Curtailment is the setpoint in effect.
func (s *Service) Curtailment() float64 { return s.store.Curtailment() }

// Submit validates, verifies and applies cmd. caller identifies the
// requester in the audit trail. On success the returned value is the
// curtailment now in effect and exactly one audit record was written. On
// any error nothing was changed and nothing was audited.
func (s *Service) Submit(ctx context.Context, cmd model.CurtailmentCommand, caller string) (float64, error) {
	applied, err := s.submit(ctx, cmd, caller)
	result := Kind(err)
	if s.opts.Recorder != nil {
		s.opts.Recorder.ObserveCommand(result)
	}
	log := s.opts.Logger.With(
		"caller", caller,
		"nonce", cmd.Nonce,
		"ts", cmd.Timestamp,
		"tag_present", cmd.Tag != "",
	)
	if err != nil {
		log.Warn("curtailment command rejected", "result", result, "error", err)
		return 0, err
	}
	log.Info("curtailment command applied", "curtailment", applied)
	return applied, nil
}

func (s *Service) submit(ctx context.Context, cmd model.CurtailmentCommand, caller string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !ValidCurtailment(cmd.Curtailment) {
		return 0, fmt.Errorf("%w: %v", ErrOutOfRange, cmd.Curtailment)
	}
	if err := auth.VerifyAny(cmd, s.keys.Secrets(), s.opts.Clock.Now(), s.opts.Freshness); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The publisher sees the new value only once it is on disk and audited.
	prev := s.store.Curtailment()
	if err := s.store.Persist(cmd.Curtailment); err != nil {
		return 0, &StorageError{Op: "persist control state", Err: err}
	}
	if _, err := s.trail.Append(audit.SetCurtailment(cmd.Curtailment, cmd.Nonce, caller, cmd.Timestamp)); err != nil {
		if rerr := s.store.Persist(prev); rerr != nil {
			s.opts.Logger.Error("control state rollback failed",
				"error", rerr, "previous", prev, "attempted", cmd.Curtailment)
		}
		return 0, &StorageError{Op: "audit", Err: err}
	}
	s.store.Commit(cmd.Curtailment)
	return cmd.Curtailment, nil
}
