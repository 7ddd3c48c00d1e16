// Package adversary replays a register spoofing attack against the device,
// for exercising the anomaly monitor.
package adversary

import (
	"context"
	"log/slog"
	"time"

	"github.com/rohanbalixz/clad-pv/internal/registers"
	"github.com/rohanbalixz/clad-pv/internal/schedule"
)

// Writer is a protocol client that can write holding registers.
type Writer interface {
	WriteHolding(ctx context.Context, addr uint16, values []uint16) error
}

type Write struct {
	Addr  uint16
	Value uint16
}

type Phase struct {
	Name   string
	Writes []Write
}

// DefaultPhases spoofs a ramp, a frequency excursion, an overvoltage and
// zeroed power factors, in that order.
func DefaultPhases() []Phase {
	return []Phase{
		{Name: "power_jump", Writes: []Write{
			{Addr: registers.SlotPPV, Value: 5000},
			{Addr: registers.SlotPSource, Value: 9000},
		}},
		{Name: "frequency", Writes: []Write{{Addr: registers.SlotFHz, Value: 5650}}},
		{Name: "voltage", Writes: []Write{{Addr: registers.SlotV1PU, Value: 1200}}},
		{Name: "power_factor", Writes: []Write{
			{Addr: registers.SlotPFSource, Value: 0},
			{Addr: registers.SlotPFPV, Value: 0},
		}},
	}
}

type Result struct {
	Phase string
	Write Write
	Err   error
}

// Report lists every attempted write.
type Report struct {
	Results []Result
}

func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

type Attack struct {
	Phases []Phase
	// Pause is the wait between phases.
	Pause  time.Duration
	Clock  schedule.Clock
	Logger *slog.Logger
}

// describe names the target register, or gives the raw address when the
// write lands outside the map.
func describe(wr Write) []any {
	if int(wr.Addr) >= registers.HoldingCount {
		return []any{"addr", wr.Addr, "raw", wr.Value}
	}
	slot := registers.Map[wr.Addr]
	return []any{"register", slot.Name, "raw", wr.Value, "value", slot.Decode(wr.Value)}
}

// Run performs every phase. A failed write is recorded and the attack
// continues; only context cancellation stops it early.
func (a Attack) Run(ctx context.Context, w Writer) (Report, error) {
	phases := a.Phases
	if phases == nil {
		phases = DefaultPhases()
	}
	clk := a.Clock
	if clk == nil {
		clk = schedule.Real{}
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var rep Report
	logger.Info("attack start", "phases", len(phases))
	for i, ph := range phases {
		for _, wr := range ph.Writes {
			err := w.WriteHolding(ctx, wr.Addr, []uint16{wr.Value})
			rep.Results = append(rep.Results, Result{Phase: ph.Name, Write: wr, Err: err})
			target := describe(wr)
			if err != nil {
				logger.Warn("spoof write failed", append(target, "phase", ph.Name, "error", err)...)
				continue
			}
			logger.Info("spoof write", append(target, "phase", ph.Name)...)
		}
		if i < len(phases)-1 {
			if err := schedule.Sleep(ctx, clk, a.Pause); err != nil {
				return rep, err
			}
		}
	}
	logger.Info("attack complete", "writes", len(rep.Results), "failed", rep.Failed())
	return rep, nil
}
