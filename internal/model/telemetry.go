package model

import "time"

// TelemetrySample is one row of the physics simulator output.
// Units: volts, per-unit, hertz, kW and kVAR; power factors are -1..1.
type TelemetrySample struct {
	Timestamp time.Time `json:"timestamp"`

	V1V  float64 `json:"V1_V"`
	V1PU float64 `json:"V1_pu"`
	FHz  float64 `json:"f_Hz"`

	PPVkW       float64 `json:"P_PV_kW"`
	QPVkVAR     float64 `json:"Q_PV_kVAR"`
	PSourcekW   float64 `json:"P_Source_kW"`
	QSourcekVAR float64 `json:"Q_Source_kVAR"`

	PFSource float64 `json:"pf_src"`
	PFPV     float64 `json:"pf_pv"`
}

// Curtailed returns a copy with PV active power reduced by the curtailment
// fraction. The result never goes below zero.
func (s TelemetrySample) Curtailed(curtailment float64) TelemetrySample {
	out := s
	p := s.PPVkW * (1 - curtailment)
	if p < 0 {
		p = 0
	}
	out.PPVkW = p
	return out
}
