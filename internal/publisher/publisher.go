// Package publisher turns telemetry samples into register image updates,
// applying the curtailment setpoint to PV active power on the way.
package publisher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rohanbalixz/clad-pv/internal/metrics"
	"github.com/rohanbalixz/clad-pv/internal/registers"
	"github.com/rohanbalixz/clad-pv/internal/schedule"
	"github.com/rohanbalixz/clad-pv/internal/telemetry"
)

// Setpoint supplies the curtailment in effect.
type Setpoint interface {
	Curtailment() float64
}

type Options struct {
	// LogEvery logs a progress line every N ticks. Zero disables it.
	LogEvery int
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Publisher is the only writer of telemetry into the image.
type Publisher struct {
	source   telemetry.Source
	setpoint Setpoint
	image    *registers.Image
	opts     Options

	mu   sync.Mutex
	next uint64
}

func New(source telemetry.Source, setpoint Setpoint, image *registers.Image, opts Options) *Publisher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Publisher{source: source, setpoint: setpoint, image: image, opts: opts}
}

// Tick publishes one sample. The heartbeat is the tick index modulo
// registers.HeartbeatWrap, starting at 0.
func (p *Publisher) Tick(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw := p.source.Next()
	c := p.setpoint.Curtailment()
	eff := raw.Curtailed(c)

	i := p.next
	hb := uint16(i % registers.HeartbeatWrap)
	p.image.Publish(registers.EncodeSample(eff), hb, i)
	p.next++

	p.opts.Metrics.PublisherTick(hb)
	if n := p.opts.LogEvery; n > 0 && i%uint64(n) == 0 {
		p.opts.Logger.Info("published",
			"tick", i,
			"heartbeat", hb,
			"P_PV_raw_kW", raw.PPVkW,
			"P_PV_eff_kW", eff.PPVkW,
			"curtailment", c,
		)
	}
	return nil
}

// Ticks reports how many samples have been published.
func (p *Publisher) Ticks() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// Loop wraps Tick in a schedule.Loop named "publisher".
func (p *Publisher) Loop(cfg schedule.Config) *schedule.Loop {
	if cfg.Name == "" {
		cfg.Name = "publisher"
	}
	if cfg.Logger == nil {
		cfg.Logger = p.opts.Logger
	}
	return schedule.NewLoop(cfg, p.Tick)
}
