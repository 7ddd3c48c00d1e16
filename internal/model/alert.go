package model

import "time"

// Rule names an anomaly check. Keep these values stable; they show up in
// logs, metrics labels and the InfluxDB sink.
type Rule string

const (
	RuleVoltageRange Rule = "Vpu_out_of_range"
	RuleFreqRange    Rule = "freq_out_of_range"
	RulePVRamp       Rule = "Ppv_ramp_impossible"
	RuleSourceRamp   Rule = "Psrc_ramp_impossible"
)

type AlertEvent struct {
	Timestamp time.Time
	Rule      Rule
	Details   string
}
