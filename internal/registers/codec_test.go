package registers

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohanbalixz/clad-pv/internal/model"
)

func TestSlotScales(t *testing.T) {
	want := []float64{1, 1000, 100, 10, 10, 10, 10, 1000, 1000}
	for i, s := range Map {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, want[i], s.Scale, s.Name)
	}
}

func TestEncodeRoundsAndClamps(t *testing.T) {
	f := Map[SlotFHz]
	assert.Equal(t, uint16(6000), f.Encode(60.0))
	assert.Equal(t, uint16(5650), f.Encode(56.5))
	assert.Equal(t, uint16(5999), f.Encode(59.987))

	p := Map[SlotPPV]
	assert.Equal(t, uint16(0), p.Encode(-12.3))
	assert.Equal(t, uint16(math.MaxUint16), p.Encode(1e9))
	assert.Equal(t, uint16(0), p.Encode(math.NaN()))
	assert.Equal(t, uint16(0), p.Encode(math.Inf(1)))
}

func TestRoundTripWithinHalfStep(t *testing.T) {
	s := model.TelemetrySample{
		V1V: 7213.4, V1PU: 1.0019, FHz: 59.987,
		PPVkW: 287.34, QPVkVAR: 12.01, PSourcekW: 152.66, QSourcekVAR: 41.2,
		PFSource: 0.9651, PFPV: 0.9991,
	}
	bank := EncodeSample(s)
	r, err := DecodeBank(bank[:], time.Unix(0, 0))
	require.NoError(t, err)

	got := []float64{r.V1V, r.V1PU, r.FHz, r.PPVkW, r.QPVkVAR, r.PSourcekW, r.QSourcekVAR, r.PFSource, r.PFPV}
	in := []float64{s.V1V, s.V1PU, s.FHz, s.PPVkW, s.QPVkVAR, s.PSourcekW, s.QSourcekVAR, s.PFSource, s.PFPV}
	for i := range got {
		assert.InDelta(t, in[i], got[i], Map[i].Step()/2+1e-9, Map[i].Name)
	}
}

func TestRoundTripAcrossRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, slot := range Map {
		lo, hi := slot.Range()
		step := slot.Step()
		values := []float64{
			lo, hi,
			lo + step/4, hi - step/4,
			lo + step/2 - 1e-9, hi - step/2 + 1e-9,
			math.Nextafter(lo, hi), math.Nextafter(hi, lo),
		}
		for i := 0; i <= 1000; i++ {
			values = append(values, lo+(hi-lo)*float64(i)/1000)
		}
		for i := 0; i < 2000; i++ {
			values = append(values, lo+(hi-lo)*rng.Float64())
		}
		for _, x := range values {
			got := slot.Decode(slot.Encode(x))
			tol := step/2 + 1e-9*math.Max(1, math.Abs(x))
			if !assert.InDelta(t, x, got, tol, "%s x=%v", slot.Name, x) {
				break
			}
		}
	}
}

func TestDecodeBankShort(t *testing.T) {
	_, err := DecodeBank(make([]uint16, 3), time.Now())
	require.Error(t, err)
}

func TestLookup(t *testing.T) {
	s, ok := Lookup("f_Hz")
	require.True(t, ok)
	assert.Equal(t, SlotFHz, s.Index)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}
