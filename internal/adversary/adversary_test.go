package adversary

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohanbalixz/clad-pv/internal/registers"
	"github.com/rohanbalixz/clad-pv/internal/schedule"
)

type recordingWriter struct {
	mu     sync.Mutex
	writes []Write
	failOn uint16
}

func (r *recordingWriter) WriteHolding(_ context.Context, addr uint16, values []uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, Write{Addr: addr, Value: values[0]})
	if addr == r.failOn {
		return errors.New("illegal function")
	}
	return nil
}

func (r *recordingWriter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDefaultPhasesWriteExpectedRegisters(t *testing.T) {
	w := &recordingWriter{failOn: 999}
	rep, err := Attack{Logger: quiet()}.Run(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, []Write{
		{Addr: registers.SlotPPV, Value: 5000},
		{Addr: registers.SlotPSource, Value: 9000},
		{Addr: registers.SlotFHz, Value: 5650},
		{Addr: registers.SlotV1PU, Value: 1200},
		{Addr: registers.SlotPFSource, Value: 0},
		{Addr: registers.SlotPFPV, Value: 0},
	}, w.writes)
	assert.Equal(t, 0, rep.Failed())
}

func TestFailedWritesAreReported(t *testing.T) {
	w := &recordingWriter{failOn: registers.SlotFHz}
	rep, err := Attack{Logger: quiet()}.Run(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed())
	assert.Len(t, rep.Results, 6)
}

func TestPausesBetweenPhasesOnClock(t *testing.T) {
	clk := schedule.NewFake(time.Unix(0, 0))
	w := &recordingWriter{failOn: 999}
	done := make(chan error, 1)
	go func() {
		_, err := Attack{Pause: 2 * time.Second, Clock: clk, Logger: quiet()}.Run(context.Background(), w)
		done <- err
	}()

	wantAfterPhase := []int{2, 3, 4, 6}
	for _, want := range wantAfterPhase[:3] {
		require.Eventually(t, func() bool { return w.count() == want && clk.Waiters() == 1 }, time.Second, time.Millisecond)
		clk.Advance(2 * time.Second)
	}
	require.NoError(t, <-done)
	assert.Equal(t, 6, w.count())
}

func TestCancelStopsBetweenPhases(t *testing.T) {
	clk := schedule.NewFake(time.Unix(0, 0))
	w := &recordingWriter{failOn: 999}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Attack{Pause: time.Hour, Clock: clk, Logger: quiet()}.Run(ctx, w)
		done <- err
	}()
	require.Eventually(t, func() bool { return w.count() == 2 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 2, w.count())
}

type imageWriter struct{ img *registers.Image }

func (w imageWriter) WriteHolding(_ context.Context, addr uint16, values []uint16) error {
	_, err := w.img.WriteHolding(addr, values)
	return err
}

func TestWritesOutsideTheMap(t *testing.T) {
	phases := []Phase{{Name: "out_of_map", Writes: []Write{
		{Addr: 40, Value: 1},
		{Addr: registers.HoldingCount, Value: 2},
		{Addr: registers.SlotFHz, Value: 5650},
	}}}

	t.Run("accepted", func(t *testing.T) {
		w := &recordingWriter{failOn: 999}
		rep, err := Attack{Phases: phases, Logger: quiet()}.Run(context.Background(), w)
		require.NoError(t, err)
		assert.Equal(t, 0, rep.Failed())
		assert.Equal(t, 3, w.count())
	})

	t.Run("rejected by the image", func(t *testing.T) {
		img := registers.NewImage(registers.Options{Writable: true})
		rep, err := Attack{Phases: phases, Logger: quiet()}.Run(context.Background(), imageWriter{img})
		require.NoError(t, err)
		require.Len(t, rep.Results, 3)
		assert.ErrorIs(t, rep.Results[0].Err, registers.ErrIllegalAddress)
		assert.ErrorIs(t, rep.Results[1].Err, registers.ErrIllegalAddress)
		assert.NoError(t, rep.Results[2].Err)
		assert.Equal(t, uint16(5650), img.Snapshot().Holding[registers.SlotFHz])
	})
}
