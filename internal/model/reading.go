package model

import "time"

// Reading is a register image decoded back into physical units, as seen by
// a protocol client. It carries the same quantities as TelemetrySample but
// the timestamp is the moment of the read, not of the simulation.
type Reading struct {
	At time.Time

	V1V  float64
	V1PU float64
	FHz  float64

	PPVkW       float64
	QPVkVAR     float64
	PSourcekW   float64
	QSourcekVAR float64

	PFSource float64
	PFPV     float64
}
