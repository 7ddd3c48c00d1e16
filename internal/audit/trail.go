// Package audit writes the control audit trail: one JSON object per line,
// each carrying an HMAC over the canonical encoding of its event.
//
// Entries are tagged independently. The trail detects edits to an entry but
// not the removal of trailing entries.
package audit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rohanbalixz/clad-pv/internal/storage"
)

const ActionSetCurtailment = "set_curtailment"

// Event is the signed payload. Fields are declared in alphabetical order of
// their JSON names: encoding/json emits struct fields in declaration order,
// which makes the compact encoding the sorted-key canonical form.
type Event struct {
	Action      string   `json:"action"`
	Caller      string   `json:"caller"`
	Curtailment *float64 `json:"curtailment,omitempty"`
	Nonce       string   `json:"nonce,omitempty"`
	TS          int64    `json:"ts"`
}

// Record is one line of the trail.
type Record struct {
	Event Event  `json:"event"`
	Sig   string `json:"sig"`
}

var ErrBadRecord = errors.New("audit record signature mismatch")

// Canonical returns the bytes the signature covers.
func Canonical(ev Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign computes the hex tag of ev under secret.
func Sign(secret []byte, ev Event) (string, error) {
	payload, err := Canonical(ev)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks one record's tag.
func Verify(secret []byte, rec Record) error {
	want, err := Sign(secret, rec.Event)
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(rec.Sig)
	if err != nil {
		return ErrBadRecord
	}
	wantRaw, _ := hex.DecodeString(want)
	if !hmac.Equal(got, wantRaw) {
		return ErrBadRecord
	}
	return nil
}

// Trail signs events and appends them to a journal.
type Trail struct {
	mu      sync.Mutex
	journal storage.Journal
	secret  []byte
}

func NewTrail(journal storage.Journal, secret []byte) (*Trail, error) {
	if journal == nil {
		return nil, errors.New("audit: journal is nil")
	}
	if len(secret) == 0 {
		return nil, errors.New("audit: secret is empty")
	}
	return &Trail{journal: journal, secret: bytes.Clone(secret)}, nil
}

// Append signs ev and writes it as one durable line.
func (t *Trail) Append(ev Event) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sig, err := Sign(t.secret, ev)
	if err != nil {
		return Record{}, fmt.Errorf("sign audit event: %w", err)
	}
	rec := Record{Event: ev, Sig: sig}
	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encode audit record: %w", err)
	}
	if err := t.journal.AppendAtomic(line); err != nil {
		return Record{}, fmt.Errorf("append audit record: %w", err)
	}
	return rec, nil
}

// SetCurtailment builds the event written for an accepted command.
func SetCurtailment(curtailment float64, nonce, caller string, ts int64) Event {
	c := curtailment
	return Event{
		Action:      ActionSetCurtailment,
		Caller:      caller,
		Curtailment: &c,
		Nonce:       nonce,
		TS:          ts,
	}
}
