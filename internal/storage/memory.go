package storage

import (
	"bytes"
	"errors"
	"sync"
)

// MemBlob is an in-memory Blob for tests and the demo.
type MemBlob struct {
	mu     sync.Mutex
	value  []byte
	set    bool
	writes int

	// FailWrites makes every WriteAtomic return this error.
	FailWrites error
}

func NewMemBlob() *MemBlob { return &MemBlob{} }

func (m *MemBlob) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return nil, ErrNotFound
	}
	return bytes.Clone(m.value), nil
}

func (m *MemBlob) WriteAtomic(value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.value = bytes.Clone(value)
	m.set = true
	m.writes++
	return nil
}

// Writes reports how many successful writes happened.
func (m *MemBlob) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// MemJournal is an in-memory Journal for tests and the demo.
type MemJournal struct {
	mu      sync.Mutex
	records [][]byte

	FailAppends error
}

func NewMemJournal() *MemJournal { return &MemJournal{} }

func (m *MemJournal) AppendAtomic(record []byte) error {
	if bytes.IndexByte(record, '\n') >= 0 {
		return errors.New("storage: journal record contains a newline")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppends != nil {
		return m.FailAppends
	}
	m.records = append(m.records, bytes.Clone(record))
	return nil
}

// Records returns a copy of everything appended so far, in order.
func (m *MemJournal) Records() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.records))
	for i, r := range m.records {
		out[i] = bytes.Clone(r)
	}
	return out
}

var (
	_ Blob    = (*MemBlob)(nil)
	_ Journal = (*MemJournal)(nil)
)
