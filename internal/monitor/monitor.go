package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/rohanbalixz/clad-pv/internal/metrics"
	"github.com/rohanbalixz/clad-pv/internal/model"
	"github.com/rohanbalixz/clad-pv/internal/schedule"
)

// Reader fetches one decoded reading. transport.Client and
// transport.ImageReader both qualify.
type Reader interface {
	ReadReading(ctx context.Context) (model.Reading, error)
}

// Sink receives the alerts raised by one poll.
type Sink interface {
	Emit(ctx context.Context, alerts []model.AlertEvent) error
}

// Tap receives every successful reading.
type Tap interface {
	Record(ctx context.Context, r model.Reading) error
}

type Options struct {
	Limits  Limits
	Sinks   []Sink
	Taps    []Tap
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Monitor keeps only the previous reading as state.
type Monitor struct {
	reader Reader
	opts   Options

	mu   sync.Mutex
	prev *model.Reading
}

func New(reader Reader, opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	return &Monitor{reader: reader, opts: opts}
}

// Tick polls once. A failed read is logged and counted, and the previous
// reading is kept so the next ramp check compares against real data.
// Sink and tap failures are logged; none of them stop the loop.
func (m *Monitor) Tick(ctx context.Context) error {
	cur, err := m.reader.ReadReading(ctx)
	if err != nil {
		m.opts.Metrics.MonitorReadError()
		m.opts.Logger.Warn("register read failed", "error", err)
		return nil
	}

	m.mu.Lock()
	alerts := Evaluate(m.prev, cur, m.opts.Limits)
	m.prev = &cur
	m.mu.Unlock()

	for _, t := range m.opts.Taps {
		if err := t.Record(ctx, cur); err != nil {
			m.opts.Logger.Warn("tap write failed", "error", err)
		}
	}
	if len(alerts) == 0 {
		return nil
	}
	for _, a := range alerts {
		m.opts.Metrics.Alert(string(a.Rule))
	}
	for _, s := range m.opts.Sinks {
		if err := s.Emit(ctx, alerts); err != nil {
			m.opts.Logger.Warn("alert sink failed", "error", err)
		}
	}
	return nil
}

// Previous returns the last successful reading, if any.
func (m *Monitor) Previous() (model.Reading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prev == nil {
		return model.Reading{}, false
	}
	return *m.prev, true
}

func (m *Monitor) Loop(cfg schedule.Config) *schedule.Loop {
	if cfg.Name == "" {
		cfg.Name = "monitor"
	}
	if cfg.Logger == nil {
		cfg.Logger = m.opts.Logger
	}
	return schedule.NewLoop(cfg, m.Tick)
}

// RuleNames joins the rules of a batch, in order.
func RuleNames(alerts []model.AlertEvent) string {
	names := make([]string, len(alerts))
	for i, a := range alerts {
		names[i] = string(a.Rule)
	}
	return strings.Join(names, ", ")
}

// LogSink writes one warning per poll with alerts.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(_ context.Context, alerts []model.AlertEvent) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	details := make([]string, len(alerts))
	for i, a := range alerts {
		details[i] = a.Details
	}
	logger.Warn("ALERT",
		"at", alerts[0].Timestamp,
		"rules", RuleNames(alerts),
		"details", strings.Join(details, "; "),
	)
	return nil
}

// ChanSink forwards alerts to a channel without blocking. Alerts are
// dropped when the channel is full.
type ChanSink chan<- model.AlertEvent

func (c ChanSink) Emit(_ context.Context, alerts []model.AlertEvent) error {
	for _, a := range alerts {
		select {
		case c <- a:
		default:
		}
	}
	return nil
}
