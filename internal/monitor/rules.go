// Package monitor polls the register image as an outside observer and
// flags readings that are physically implausible.
package monitor

import (
	"fmt"
	"math"

	"github.com/rohanbalixz/clad-pv/internal/model"
)

// Limits are the rule thresholds. Range bounds are inclusive; ramp limits
// are exclusive (a step equal to the limit is allowed).
type Limits struct {
	VpuMin float64 `yaml:"vpu_min"`
	VpuMax float64 `yaml:"vpu_max"`
	FMin   float64 `yaml:"f_min"`
	FMax   float64 `yaml:"f_max"`

	PVRampKW     float64 `yaml:"pv_ramp_kw"`
	SourceRampKW float64 `yaml:"source_ramp_kw"`
}

func DefaultLimits() Limits {
	return Limits{
		VpuMin:       0.90,
		VpuMax:       1.10,
		FMin:         59.5,
		FMax:         60.5,
		PVRampKW:     100,
		SourceRampKW: 200,
	}
}

// WithDefaults fills every zero threshold from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.VpuMin == 0 {
		l.VpuMin = d.VpuMin
	}
	if l.VpuMax == 0 {
		l.VpuMax = d.VpuMax
	}
	if l.FMin == 0 {
		l.FMin = d.FMin
	}
	if l.FMax == 0 {
		l.FMax = d.FMax
	}
	if l.PVRampKW == 0 {
		l.PVRampKW = d.PVRampKW
	}
	if l.SourceRampKW == 0 {
		l.SourceRampKW = d.SourceRampKW
	}
	return l
}

// Evaluate applies every rule to cur. Ramp rules need prev and are skipped
// when it is nil. Alerts come back in rule order.
func Evaluate(prev *model.Reading, cur model.Reading, lim Limits) []model.AlertEvent {
	var out []model.AlertEvent
	add := func(rule model.Rule, format string, args ...any) {
		out = append(out, model.AlertEvent{
			Timestamp: cur.At,
			Rule:      rule,
			Details:   fmt.Sprintf(format, args...),
		})
	}

	if cur.V1PU < lim.VpuMin || cur.V1PU > lim.VpuMax {
		add(model.RuleVoltageRange, "V1_pu=%.3f outside [%.2f, %.2f]", cur.V1PU, lim.VpuMin, lim.VpuMax)
	}
	if cur.FHz < lim.FMin || cur.FHz > lim.FMax {
		add(model.RuleFreqRange, "f_Hz=%.2f outside [%.2f, %.2f]", cur.FHz, lim.FMin, lim.FMax)
	}
	if prev != nil {
		if d := cur.PPVkW - prev.PPVkW; math.Abs(d) > lim.PVRampKW {
			add(model.RulePVRamp, "P_PV_kW %.1f -> %.1f (step %.1f > %.1f)", prev.PPVkW, cur.PPVkW, d, lim.PVRampKW)
		}
		if d := cur.PSourcekW - prev.PSourcekW; math.Abs(d) > lim.SourceRampKW {
			add(model.RuleSourceRamp, "P_Source_kW %.1f -> %.1f (step %.1f > %.1f)", prev.PSourcekW, cur.PSourcekW, d, lim.SourceRampKW)
		}
	}
	return out
}
