package monitor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohanbalixz/clad-pv/internal/metrics"
	"github.com/rohanbalixz/clad-pv/internal/model"
	"github.com/rohanbalixz/clad-pv/internal/publisher"
	"github.com/rohanbalixz/clad-pv/internal/registers"
	"github.com/rohanbalixz/clad-pv/internal/telemetry"
	"github.com/rohanbalixz/clad-pv/internal/transport"
)

var at = time.Date(2025, 8, 10, 12, 0, 0, 0, time.UTC)

func nominal() model.Reading {
	return model.Reading{At: at, V1V: 7200, V1PU: 1.0, FHz: 60, PPVkW: 50, PSourcekW: 150, PFSource: 0.98, PFPV: 1}
}

func rules(alerts []model.AlertEvent) []model.Rule {
	out := []model.Rule{}
	for _, a := range alerts {
		out = append(out, a.Rule)
	}
	return out
}

func TestEvaluate(t *testing.T) {
	lim := DefaultLimits()
	prev := nominal()

	tests := []struct {
		name string
		prev *model.Reading
		cur  func(r *model.Reading)
		want []model.Rule
	}{
		{name: "nominal", prev: &prev, cur: func(*model.Reading) {}, want: []model.Rule{}},
		{name: "overvoltage", prev: &prev, cur: func(r *model.Reading) { r.V1PU = 1.20 }, want: []model.Rule{model.RuleVoltageRange}},
		{name: "voltage bound inclusive", prev: &prev, cur: func(r *model.Reading) { r.V1PU = 1.10 }, want: []model.Rule{}},
		{name: "undervoltage", prev: &prev, cur: func(r *model.Reading) { r.V1PU = 0.89 }, want: []model.Rule{model.RuleVoltageRange}},
		{name: "frequency dip", prev: &prev, cur: func(r *model.Reading) { r.FHz = 56.50 }, want: []model.Rule{model.RuleFreqRange}},
		{name: "frequency bound inclusive", prev: &prev, cur: func(r *model.Reading) { r.FHz = 59.5 }, want: []model.Rule{}},
		{name: "pv jump", prev: &prev, cur: func(r *model.Reading) { r.PPVkW = 500 }, want: []model.Rule{model.RulePVRamp}},
		{name: "pv step at limit", prev: &prev, cur: func(r *model.Reading) { r.PPVkW = 150 }, want: []model.Rule{}},
		{name: "pv drop", prev: &prev, cur: func(r *model.Reading) { r.PPVkW = 0; r.PSourcekW = 0 }, want: []model.Rule{}},
		{name: "source jump", prev: &prev, cur: func(r *model.Reading) { r.PSourcekW = 900 }, want: []model.Rule{model.RuleSourceRamp}},
		{name: "no previous skips ramps", prev: nil, cur: func(r *model.Reading) { r.PPVkW = 5000 }, want: []model.Rule{}},
		{
			name: "all at once",
			prev: &prev,
			cur: func(r *model.Reading) {
				r.V1PU, r.FHz, r.PPVkW, r.PSourcekW = 1.2, 56.5, 500, 900
			},
			want: []model.Rule{model.RuleVoltageRange, model.RuleFreqRange, model.RulePVRamp, model.RuleSourceRamp},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := nominal()
			tt.cur(&cur)
			got := Evaluate(tt.prev, cur, lim)
			assert.Equal(t, tt.want, rules(got))
			for _, a := range got {
				assert.Equal(t, at, a.Timestamp)
				assert.NotEmpty(t, a.Details)
			}
		})
	}
}

type scriptedReader struct {
	mu    sync.Mutex
	steps []func() (model.Reading, error)
}

func (s *scriptedReader) ReadReading(context.Context) (model.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step()
}

func ok(r model.Reading) func() (model.Reading, error) {
	return func() (model.Reading, error) { return r, nil }
}

func fail() (model.Reading, error) { return model.Reading{}, errors.New("timeout") }

type collectSink struct{ got [][]model.AlertEvent }

func (c *collectSink) Emit(_ context.Context, a []model.AlertEvent) error {
	c.got = append(c.got, a)
	return nil
}

func TestTickSkipsFailedReads(t *testing.T) {
	high := nominal()
	high.PPVkW = 500

	reader := &scriptedReader{steps: []func() (model.Reading, error){ok(nominal()), fail, ok(high)}}
	sink := &collectSink{}
	m := metrics.New(prometheus.NewRegistry())
	mon := New(reader, Options{
		Sinks:   []Sink{sink, LogSink{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: m,
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, mon.Tick(context.Background()))
		if i == 1 {
			prev, ok := mon.Previous()
			require.True(t, ok)
			assert.Equal(t, 50.0, prev.PPVkW)
		}
	}
	require.Len(t, sink.got, 1)
	assert.Equal(t, []model.Rule{model.RulePVRamp}, rules(sink.got[0]))
}

func TestTickFeedsTaps(t *testing.T) {
	var buf bytes.Buffer
	tap, err := NewTapWriter(&buf)
	require.NoError(t, err)

	r := nominal()
	mon := New(&scriptedReader{steps: []func() (model.Reading, error){ok(r), ok(r)}}, Options{
		Taps:   []Tap{tap},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, mon.Tick(context.Background()))
	require.NoError(t, mon.Tick(context.Background()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,V1_V,V1_pu,f_Hz,P_PV_kW,Q_PV_kVAR,P_Source_kW,Q_Source_kVAR,pf_src,pf_pv", lines[0])
	assert.Equal(t, "2025-08-10T12:00:00Z,7200,1,60,50,0,150,0,0.98,1", lines[1])
}

func TestChanSinkDropsWhenFull(t *testing.T) {
	ch := make(chan model.AlertEvent, 1)
	s := ChanSink(ch)
	require.NoError(t, s.Emit(context.Background(), []model.AlertEvent{{Rule: model.RuleFreqRange}, {Rule: model.RulePVRamp}}))
	assert.Equal(t, model.RuleFreqRange, (<-ch).Rule)
	assert.Empty(t, ch)
}

// Spoofed register values reach the monitor only when the image is in lab
// mode; the next publish restores the simulator's values.
func TestDetectsSpoofedFrequencyInLabMode(t *testing.T) {
	img := registers.NewImage(registers.Options{Writable: true})
	src, err := telemetry.NewCycle([]model.TelemetrySample{{V1V: 7200, V1PU: 1, FHz: 60, PPVkW: 50, PFPV: 1, PFSource: 1}})
	require.NoError(t, err)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := publisher.New(src, constSetpoint(0), img, publisher.Options{Logger: quiet})
	sink := &collectSink{}
	mon := New(transport.ImageReader{Image: img}, Options{Sinks: []Sink{sink}, Logger: quiet})

	ctx := context.Background()
	require.NoError(t, pub.Tick(ctx))
	require.NoError(t, mon.Tick(ctx))
	assert.Empty(t, sink.got)

	_, err = img.WriteHolding(registers.SlotFHz, []uint16{5650})
	require.NoError(t, err)
	require.NoError(t, mon.Tick(ctx))
	require.Len(t, sink.got, 1)
	assert.Equal(t, []model.Rule{model.RuleFreqRange}, rules(sink.got[0]))

	require.NoError(t, pub.Tick(ctx))
	require.NoError(t, mon.Tick(ctx))
	assert.Len(t, sink.got, 1)
}

type constSetpoint float64

func (c constSetpoint) Curtailment() float64 { return float64(c) }

func TestInfluxSinkWritesLineProtocol(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "t", Org: "grid", Bucket: "edge", Timeout: time.Second})
	defer s.Close()

	err := s.Emit(context.Background(), []model.AlertEvent{
		{Timestamp: at, Rule: model.RuleFreqRange, Details: "f_Hz=56.50"},
	})
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), nominal()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[0], "cladpv_alert,device=PV-EMU-1,rule=freq_out_of_range")
	assert.Contains(t, bodies[0], `details="f_Hz=56.50"`)
	assert.Contains(t, bodies[1], "cladpv_reading,device=PV-EMU-1")
	assert.Contains(t, bodies[1], "f_Hz=60")
	assert.Contains(t, query, "bucket=edge")
}

func TestInfluxSinkReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unauthorized","message":"bad token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewInfluxSink(InfluxConfig{URL: srv.URL, Org: "o", Bucket: "b"})
	defer s.Close()
	err := s.Emit(context.Background(), []model.AlertEvent{{Timestamp: at, Rule: model.RulePVRamp, Details: "x"}})
	require.Error(t, err)
}

func TestInfluxTimeoutRoundsUp(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want uint
	}{
		{0, 1},
		{250 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{5 * time.Second, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, timeoutSeconds(tt.in), tt.in.String())
	}
}
