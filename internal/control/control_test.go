package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohanbalixz/clad-pv/internal/audit"
	"github.com/rohanbalixz/clad-pv/internal/auth"
	"github.com/rohanbalixz/clad-pv/internal/model"
	"github.com/rohanbalixz/clad-pv/internal/schedule"
	"github.com/rohanbalixz/clad-pv/internal/storage"
)

var (
	controlSecret = []byte("control-secret")
	auditSecret   = []byte("audit-secret")
	now           = time.Unix(1_700_000_000, 0)
)

type fakeRecorder struct {
	results     []string
	curtailment float64
}

func (r *fakeRecorder) ObserveCommand(result string) { r.results = append(r.results, result) }

type fixture struct {
	svc     *Service
	store   *Store
	blob    *storage.MemBlob
	journal *storage.MemJournal
	keys    *auth.StaticKeyring
	rec     *fakeRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	blob := storage.NewMemBlob()
	journal := storage.NewMemJournal()
	trail, err := audit.NewTrail(journal, auditSecret)
	require.NoError(t, err)
	store := OpenStore(blob, logger)
	keys := auth.NewStaticKeyring(controlSecret)
	rec := &fakeRecorder{}
	svc, err := NewService(store, trail, keys, Options{
		Clock:    schedule.NewFake(now),
		Logger:   logger,
		Recorder: rec,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, blob: blob, journal: journal, keys: keys, rec: rec}
}

func signed(secret []byte, c float64, nonce string, ts int64) model.CurtailmentCommand {
	return model.CurtailmentCommand{
		Curtailment: c,
		Nonce:       nonce,
		Timestamp:   ts,
		Tag:         auth.Sign(secret, c, nonce, ts),
	}
}

func TestSubmitAccepted(t *testing.T) {
	f := newFixture(t)
	cmd := signed(controlSecret, 0.5, "n-1", now.Unix()-10)

	applied, err := f.svc.Submit(context.Background(), cmd, "10.0.0.7")
	require.NoError(t, err)
	assert.Equal(t, 0.5, applied)
	assert.Equal(t, 0.5, f.svc.Curtailment())

	raw, err := f.blob.Read()
	require.NoError(t, err)
	var st model.ControlState
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, 0.5, st.Curtailment)

	records := f.journal.Records()
	require.Len(t, records, 1)
	var rec audit.Record
	require.NoError(t, json.Unmarshal(records[0], &rec))
	require.NoError(t, audit.Verify(auditSecret, rec))
	assert.Equal(t, audit.ActionSetCurtailment, rec.Event.Action)
	assert.Equal(t, "10.0.0.7", rec.Event.Caller)
	assert.Equal(t, "n-1", rec.Event.Nonce)
	assert.Equal(t, cmd.Timestamp, rec.Event.TS)
	require.NotNil(t, rec.Event.Curtailment)
	assert.Equal(t, 0.5, *rec.Event.Curtailment)

	assert.Equal(t, []string{ResultAccepted}, f.rec.results)
	assert.Equal(t, 0.5, f.rec.curtailment)
}

func TestSubmitBoundaries(t *testing.T) {
	for _, c := range []float64{0, 1} {
		f := newFixture(t)
		applied, err := f.svc.Submit(context.Background(), signed(controlSecret, c, "b", now.Unix()), "local")
		require.NoError(t, err)
		assert.Equal(t, c, applied)
	}
}

func TestSubmitRejections(t *testing.T) {
	tests := []struct {
		name string
		cmd  model.CurtailmentCommand
		want error
		kind string
	}{
		{
			name: "stale",
			cmd:  signed(controlSecret, 0.5, "n", now.Unix()-1000),
			want: auth.ErrStaleTimestamp,
			kind: ResultStale,
		},
		{
			name: "future",
			cmd:  signed(controlSecret, 0.5, "n", now.Unix()+61),
			want: auth.ErrStaleTimestamp,
			kind: ResultStale,
		},
		{
			name: "wrong secret",
			cmd:  signed([]byte("nope"), 0.5, "n", now.Unix()),
			want: auth.ErrBadSignature,
			kind: ResultBadSignature,
		},
		{
			name: "tampered value",
			cmd: func() model.CurtailmentCommand {
				c := signed(controlSecret, 0.2, "n", now.Unix())
				c.Curtailment = 0.9
				return c
			}(),
			want: auth.ErrBadSignature,
			kind: ResultBadSignature,
		},
		{
			name: "above one with valid tag",
			cmd:  signed(controlSecret, 1.5, "n", now.Unix()),
			want: ErrOutOfRange,
			kind: ResultOutOfRange,
		},
		{
			name: "negative with bad tag",
			cmd:  model.CurtailmentCommand{Curtailment: -0.1, Nonce: "n", Timestamp: now.Unix(), Tag: "00"},
			want: ErrOutOfRange,
			kind: ResultOutOfRange,
		},
		{
			name: "nan",
			cmd:  model.CurtailmentCommand{Curtailment: math.NaN(), Nonce: "n", Timestamp: now.Unix()},
			want: ErrOutOfRange,
			kind: ResultOutOfRange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Submit(context.Background(), tt.cmd, "local")
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, Kind(err))
			assert.Equal(t, 0.0, f.svc.Curtailment())
			assert.Equal(t, 0, f.blob.Writes())
			assert.Empty(t, f.journal.Records())
			assert.Equal(t, []string{tt.kind}, f.rec.results)
		})
	}
}

func TestSubmitReplayWithinWindowIsAccepted(t *testing.T) {
	f := newFixture(t)
	cmd := signed(controlSecret, 0.3, "same", now.Unix())
	_, err := f.svc.Submit(context.Background(), cmd, "local")
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), cmd, "local")
	require.NoError(t, err)
	assert.Len(t, f.journal.Records(), 2)
}

func TestSubmitAcceptsPreviousSecretDuringRotation(t *testing.T) {
	f := newFixture(t)
	f.keys.Rotate([]byte("next-secret"), true)

	_, err := f.svc.Submit(context.Background(), signed(controlSecret, 0.1, "old", now.Unix()), "local")
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), signed([]byte("next-secret"), 0.2, "new", now.Unix()), "local")
	require.NoError(t, err)

	f.keys.Retire()
	_, err = f.svc.Submit(context.Background(), signed(controlSecret, 0.3, "old", now.Unix()), "local")
	require.ErrorIs(t, err, auth.ErrBadSignature)
	assert.Equal(t, 0.2, f.svc.Curtailment())
}

func TestSubmitStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.blob.FailWrites = errors.New("disk full")

	_, err := f.svc.Submit(context.Background(), signed(controlSecret, 0.4, "n", now.Unix()), "local")
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ResultStorageError, Kind(err))
	assert.Equal(t, 0.0, f.svc.Curtailment())
	assert.Empty(t, f.journal.Records())
}

func TestSubmitAuditFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), signed(controlSecret, 0.25, "first", now.Unix()), "local")
	require.NoError(t, err)

	f.journal.FailAppends = errors.New("journal closed")
	_, err = f.svc.Submit(context.Background(), signed(controlSecret, 0.75, "second", now.Unix()), "local")
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "audit", se.Op)

	assert.Equal(t, 0.25, f.svc.Curtailment())
	reopened := OpenStore(f.blob, nil)
	assert.Equal(t, 0.25, reopened.Curtailment())
	assert.Len(t, f.journal.Records(), 1)
}

// peekJournal records the setpoint readers see while the audit line is
// being written.
type peekJournal struct {
	store *Store
	seen  []float64
	err   error
}

func (j *peekJournal) AppendAtomic([]byte) error {
	j.seen = append(j.seen, j.store.Curtailment())
	return j.err
}

func TestSubmitCommitsOnlyAfterAudit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	blob := storage.NewMemBlob()
	store := OpenStore(blob, logger)
	journal := &peekJournal{store: store}
	trail, err := audit.NewTrail(journal, auditSecret)
	require.NoError(t, err)
	svc, err := NewService(store, trail, auth.NewStaticKeyring(controlSecret), Options{
		Clock:  schedule.NewFake(now),
		Logger: logger,
	})
	require.NoError(t, err)

	journal.err = syscall.EIO
	_, err = svc.Submit(context.Background(), signed(controlSecret, 0.9, "fails", now.Unix()), "local")
	require.ErrorIs(t, err, syscall.EIO)
	assert.Equal(t, "audit: append audit record: "+syscall.EIO.Error(), err.Error())
	assert.Equal(t, []float64{0}, journal.seen)
	assert.Equal(t, 0.0, svc.Curtailment())
	assert.Equal(t, 0.0, OpenStore(blob, nil).Curtailment())

	journal.err = nil
	applied, err := svc.Submit(context.Background(), signed(controlSecret, 0.4, "works", now.Unix()), "local")
	require.NoError(t, err)
	assert.Equal(t, 0.4, applied)
	assert.Equal(t, []float64{0, 0}, journal.seen)
	assert.Equal(t, 0.4, svc.Curtailment())
	assert.Equal(t, 0.4, OpenStore(blob, nil).Curtailment())
}

func TestSubmitCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Submit(ctx, signed(controlSecret, 0.5, "n", now.Unix()), "local")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ResultInternalError, Kind(err))
}

func TestOpenStoreFallsBackToZero(t *testing.T) {
	for name, raw := range map[string]string{
		"malformed":    "{not json",
		"out of range": `{"curtailment": 3}`,
		"negative":     `{"curtailment": -0.5}`,
	} {
		t.Run(name, func(t *testing.T) {
			blob := storage.NewMemBlob()
			require.NoError(t, blob.WriteAtomic([]byte(raw)))
			s := OpenStore(blob, slog.New(slog.NewTextHandler(io.Discard, nil)))
			assert.Equal(t, 0.0, s.Curtailment())
		})
	}

	s := OpenStore(storage.NewMemBlob(), nil)
	assert.Equal(t, 0.0, s.Curtailment())
}

func TestStorePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.json")
	blob, err := storage.NewFileBlob(path, 0o600)
	require.NoError(t, err)

	s := OpenStore(blob, nil)
	require.NoError(t, s.Set(0.6))

	again, err := storage.NewFileBlob(path, 0o600)
	require.NoError(t, err)
	assert.Equal(t, 0.6, OpenStore(again, nil).Curtailment())
}

func TestStoreReloadPicksUpExternalEdit(t *testing.T) {
	blob := storage.NewMemBlob()
	s := OpenStore(blob, nil)
	require.NoError(t, blob.WriteAtomic([]byte(`{"curtailment": 0.9}`)))
	assert.Equal(t, 0.9, s.Reload())
	assert.Equal(t, 0.9, s.Curtailment())
}

func TestStoreSetRejectsOutOfRange(t *testing.T) {
	s := OpenStore(storage.NewMemBlob(), nil)
	require.ErrorIs(t, s.Set(1.01), ErrOutOfRange)
}
