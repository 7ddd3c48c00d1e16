// Package telemetry supplies the physics samples the publisher serves.
package telemetry

import (
	"errors"
	"sync"

	"github.com/rohanbalixz/clad-pv/internal/model"
)

// Source yields the next sample. Sources never run dry.
type Source interface {
	Next() model.TelemetrySample
}

// Cycle replays a fixed series, wrapping to the first row after the last.
type Cycle struct {
	mu      sync.Mutex
	samples []model.TelemetrySample
	pos     int
}

func NewCycle(samples []model.TelemetrySample) (*Cycle, error) {
	if len(samples) == 0 {
		return nil, errors.New("telemetry: no samples")
	}
	return &Cycle{samples: samples}, nil
}

func (c *Cycle) Len() int { return len(c.samples) }

func (c *Cycle) Next() model.TelemetrySample {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.samples[c.pos]
	c.pos = (c.pos + 1) % len(c.samples)
	return s
}
