// Package registers maps physical telemetry onto the device's fixed-point
// register map and holds the register image served to protocol clients.
package registers

import (
	"fmt"
	"math"
	"time"

	"github.com/rohanbalixz/clad-pv/internal/model"
)

// Slot describes one holding register: the quantity it carries, the
// fixed-point scale and the raw clamp range applied on encode.
type Slot struct {
	Index int
	Name  string
	Unit  string
	Scale float64
	Low   uint16
	High  uint16
}

// Step is the quantization step in physical units.
func (s Slot) Step() float64 { return 1 / s.Scale }

// Range is the physical interval that encodes without clamping.
func (s Slot) Range() (lo, hi float64) {
	return float64(s.Low) / s.Scale, float64(s.High) / s.Scale
}

// Encode scales, rounds to nearest and clamps. NaN and infinities encode
// to 0.
func (s Slot) Encode(v float64) uint16 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	x := math.Round(v * s.Scale)
	if x < float64(s.Low) {
		return s.Low
	}
	if x > float64(s.High) {
		return s.High
	}
	return uint16(x)
}

func (s Slot) Decode(r uint16) float64 {
	return float64(r) / s.Scale
}

const (
	SlotV1V = iota
	SlotV1PU
	SlotFHz
	SlotPPV
	SlotQPV
	SlotPSource
	SlotQSource
	SlotPFSource
	SlotPFPV

	HoldingCount
)

// HeartbeatAddr is the input register carrying the publisher heartbeat.
const (
	HeartbeatAddr = 0
	InputCount    = 1
	HeartbeatWrap = 10000
)

// Map is the static register table. Encode and decode share it.
var Map = [HoldingCount]Slot{
	{Index: SlotV1V, Name: "V1_V", Unit: "V", Scale: 1, High: math.MaxUint16},
	{Index: SlotV1PU, Name: "V1_pu", Unit: "pu", Scale: 1000, High: math.MaxUint16},
	{Index: SlotFHz, Name: "f_Hz", Unit: "Hz", Scale: 100, High: math.MaxUint16},
	{Index: SlotPPV, Name: "P_PV_kW", Unit: "kW", Scale: 10, High: math.MaxUint16},
	{Index: SlotQPV, Name: "Q_PV_kVAR", Unit: "kVAR", Scale: 10, High: math.MaxUint16},
	{Index: SlotPSource, Name: "P_Source_kW", Unit: "kW", Scale: 10, High: math.MaxUint16},
	{Index: SlotQSource, Name: "Q_Source_kVAR", Unit: "kVAR", Scale: 10, High: math.MaxUint16},
	{Index: SlotPFSource, Name: "pf_src", Unit: "", Scale: 1000, High: math.MaxUint16},
	{Index: SlotPFPV, Name: "pf_pv", Unit: "", Scale: 1000, High: math.MaxUint16},
}

// Lookup finds a slot by quantity name.
func Lookup(name string) (Slot, bool) {
	for _, s := range Map {
		if s.Name == name {
			return s, true
		}
	}
	return Slot{}, false
}

// Bank is the holding-register block in slot order.
type Bank [HoldingCount]uint16

// EncodeSample encodes every quantity of s into a bank.
func EncodeSample(s model.TelemetrySample) Bank {
	var b Bank
	b[SlotV1V] = Map[SlotV1V].Encode(s.V1V)
	b[SlotV1PU] = Map[SlotV1PU].Encode(s.V1PU)
	b[SlotFHz] = Map[SlotFHz].Encode(s.FHz)
	b[SlotPPV] = Map[SlotPPV].Encode(s.PPVkW)
	b[SlotQPV] = Map[SlotQPV].Encode(s.QPVkVAR)
	b[SlotPSource] = Map[SlotPSource].Encode(s.PSourcekW)
	b[SlotQSource] = Map[SlotQSource].Encode(s.QSourcekVAR)
	b[SlotPFSource] = Map[SlotPFSource].Encode(s.PFSource)
	b[SlotPFPV] = Map[SlotPFPV].Encode(s.PFPV)
	return b
}

// DecodeBank turns raw holding registers back into physical units. regs
// must hold at least HoldingCount values starting at address 0.
func DecodeBank(regs []uint16, at time.Time) (model.Reading, error) {
	if len(regs) < HoldingCount {
		return model.Reading{}, fmt.Errorf("decode: need %d registers, got %d", HoldingCount, len(regs))
	}
	return model.Reading{
		At:          at,
		V1V:         Map[SlotV1V].Decode(regs[SlotV1V]),
		V1PU:        Map[SlotV1PU].Decode(regs[SlotV1PU]),
		FHz:         Map[SlotFHz].Decode(regs[SlotFHz]),
		PPVkW:       Map[SlotPPV].Decode(regs[SlotPPV]),
		QPVkVAR:     Map[SlotQPV].Decode(regs[SlotQPV]),
		PSourcekW:   Map[SlotPSource].Decode(regs[SlotPSource]),
		QSourcekVAR: Map[SlotQSource].Decode(regs[SlotQSource]),
		PFSource:    Map[SlotPFSource].Decode(regs[SlotPFSource]),
		PFPV:        Map[SlotPFPV].Decode(regs[SlotPFPV]),
	}, nil
}
