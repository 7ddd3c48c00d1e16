package telemetry

import (
	"math"
	"sync"
	"time"

	"github.com/rohanbalixz/clad-pv/internal/model"
)

// BaselineConfig shapes the synthetic feeder day.
type BaselineConfig struct {
	// Start is the timestamp of sample 0. Its time of day positions the
	// irradiance curve.
	Start time.Time
	Step  time.Duration

	PVRatedKW    float64
	InverterEff  float64
	LoadKW       float64
	LoadPF       float64
	NominalHz    float64
	SolarNoon    time.Duration // offset from midnight
	SolarWidth   time.Duration
	SunriseAfter time.Duration
	SunsetBefore time.Duration
}

func DefaultBaseline() BaselineConfig {
	return BaselineConfig{
		Start:        time.Date(2025, 8, 10, 6, 0, 0, 0, time.UTC),
		Step:         time.Minute,
		PVRatedKW:    300,
		InverterEff:  0.97,
		LoadKW:       200,
		LoadPF:       0.98,
		NominalHz:    60,
		SolarNoon:    13 * time.Hour,
		SolarWidth:   5 * time.Hour,
		SunriseAfter: 6 * time.Hour,
		SunsetBefore: 20 * time.Hour,
	}
}

// Baseline is a deterministic one-day PV feeder. It repeats every 24h of
// sample time.
type Baseline struct {
	cfg BaselineConfig

	mu sync.Mutex
	i  int
}

func NewBaseline(cfg BaselineConfig) *Baseline {
	d := DefaultBaseline()
	if cfg.Start.IsZero() {
		cfg.Start = d.Start
	}
	if cfg.Step <= 0 {
		cfg.Step = d.Step
	}
	if cfg.PVRatedKW <= 0 {
		cfg.PVRatedKW = d.PVRatedKW
	}
	if cfg.InverterEff <= 0 {
		cfg.InverterEff = d.InverterEff
	}
	if cfg.LoadKW <= 0 {
		cfg.LoadKW = d.LoadKW
	}
	if cfg.LoadPF <= 0 || cfg.LoadPF > 1 {
		cfg.LoadPF = d.LoadPF
	}
	if cfg.NominalHz <= 0 {
		cfg.NominalHz = d.NominalHz
	}
	if cfg.SolarNoon <= 0 {
		cfg.SolarNoon = d.SolarNoon
	}
	if cfg.SolarWidth <= 0 {
		cfg.SolarWidth = d.SolarWidth
	}
	if cfg.SunriseAfter <= 0 {
		cfg.SunriseAfter = d.SunriseAfter
	}
	if cfg.SunsetBefore <= 0 {
		cfg.SunsetBefore = d.SunsetBefore
	}
	return &Baseline{cfg: cfg}
}

func (b *Baseline) Next() model.TelemetrySample {
	b.mu.Lock()
	i := b.i
	b.i++
	b.mu.Unlock()
	return b.Sample(i)
}

// Samples returns the first n samples without advancing Next.
func (b *Baseline) Samples(n int) []model.TelemetrySample {
	out := make([]model.TelemetrySample, n)
	for i := range out {
		out[i] = b.Sample(i)
	}
	return out
}

// Irradiance is the normalized 0..1 bell curve at a time of day.
func (b *Baseline) Irradiance(tod time.Duration) float64 {
	if tod < b.cfg.SunriseAfter || tod > b.cfg.SunsetBefore {
		return 0
	}
	x := (tod - b.cfg.SolarNoon).Minutes() / b.cfg.SolarWidth.Minutes()
	return math.Exp(-0.5 * x * x)
}

// Sample computes sample i. It is a pure function of i and the config.
func (b *Baseline) Sample(i int) model.TelemetrySample {
	ts := b.cfg.Start.Add(time.Duration(i) * b.cfg.Step)
	mid := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	tod := ts.Sub(mid)
	dayFrac := tod.Hours() / 24

	irr := b.Irradiance(tod)
	pPV := b.cfg.PVRatedKW * irr * b.cfg.InverterEff

	vpu := 1.0 + 0.01*math.Sin(2*math.Pi*dayFrac) + 0.02*pPV/b.cfg.PVRatedKW
	qPV := 0.05 * pPV * (1.0 - vpu) * 10

	// Load follows a mild evening peak.
	loadShape := 0.8 + 0.2*math.Exp(-0.5*math.Pow((tod.Hours()-19)/3, 2))
	pLoad := b.cfg.LoadKW * loadShape
	qLoad := pLoad * math.Tan(math.Acos(b.cfg.LoadPF))

	pSrc := pLoad - pPV
	qSrc := qLoad - qPV

	return model.TelemetrySample{
		Timestamp:   ts,
		V1V:         vpu * BaseVoltageLN,
		V1PU:        vpu,
		FHz:         b.cfg.NominalHz,
		PPVkW:       pPV,
		QPVkVAR:     qPV,
		PSourcekW:   pSrc,
		QSourcekVAR: qSrc,
		PFSource:    PowerFactor(pSrc, qSrc),
		PFPV:        pfOrUnity(pPV, qPV),
	}
}

func pfOrUnity(p, q float64) float64 {
	if p == 0 && q == 0 {
		return 1
	}
	return PowerFactor(p, q)
}
