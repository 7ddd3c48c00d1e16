package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rohanbalixz/clad-pv/internal/model"
)

// BaseVoltageLN is the line-to-neutral base of the 12.47 kV feeder.
const BaseVoltageLN = 7200.0

// Columns is the physics-feature CSV header, in register order after the
// timestamp.
var Columns = []string{
	"timestamp",
	"V1_V", "V1_pu", "f_Hz",
	"P_PV_kW", "Q_PV_kVAR", "P_Source_kW", "Q_Source_kVAR",
	"pf_src", "pf_pv",
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

func LoadCSV(path string) ([]model.TelemetrySample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// ReadCSV parses a feature CSV. Columns are matched by header name and may
// appear in any order; extra columns are ignored. Missing quantities fall
// back to f_Hz=60, power factors derived from P and Q (or 1 when neither
// is present), V1_pu derived from V1_V, everything else 0.
func ReadCSV(r io.Reader) ([]model.TelemetrySample, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty csv")
	}
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	var out []model.TelemetrySample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		s, err := parseRow(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("csv has no rows")
	}
	return out, nil
}

func parseRow(rec []string, idx map[string]int) (model.TelemetrySample, error) {
	field := func(name string) (string, bool) {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return "", false
		}
		v := strings.TrimSpace(rec[i])
		return v, v != ""
	}
	var firstErr error
	num := func(name string, def float64) (float64, bool) {
		v, ok := field(name)
		if !ok {
			return def, false
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			return def, false
		}
		return x, true
	}

	var s model.TelemetrySample
	if v, ok := field("timestamp"); ok {
		ts, err := parseTime(v)
		if err != nil {
			return s, err
		}
		s.Timestamp = ts
	}

	var hasV, hasPU bool
	s.V1V, hasV = num("V1_V", 0)
	s.V1PU, hasPU = num("V1_pu", 0)
	if !hasPU && hasV {
		s.V1PU = s.V1V / BaseVoltageLN
	}
	s.FHz, _ = num("f_Hz", 60)

	var hasPPV, hasQPV, hasPSrc, hasQSrc bool
	s.PPVkW, hasPPV = num("P_PV_kW", 0)
	s.QPVkVAR, hasQPV = num("Q_PV_kVAR", 0)
	s.PSourcekW, hasPSrc = num("P_Source_kW", 0)
	s.QSourcekVAR, hasQSrc = num("Q_Source_kVAR", 0)

	var ok bool
	if s.PFSource, ok = num("pf_src", 1); !ok && (hasPSrc || hasQSrc) {
		s.PFSource = PowerFactor(s.PSourcekW, s.QSourcekVAR)
	}
	if s.PFPV, ok = num("pf_pv", 1); !ok && (hasPPV || hasQPV) {
		s.PFPV = PowerFactor(s.PPVkW, s.QPVkVAR)
	}
	return s, firstErr
}

func parseTime(v string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q: unrecognized format", v)
}

// PowerFactor is P/|S| clipped to [-1, 1]. Zero apparent power yields 0.
func PowerFactor(p, q float64) float64 {
	s := math.Sqrt(p*p+q*q) + 1e-9
	pf := p / s
	return math.Max(-1, math.Min(1, pf))
}
