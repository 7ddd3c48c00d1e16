package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/rohanbalixz/clad-pv/internal/model"
)

type InfluxConfig struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
	// Device tags every point.
	Device string
}

// InfluxSink writes alerts (measurement cladpv_alert) and, used as a Tap,
// readings (measurement cladpv_reading) to InfluxDB.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	device   string
}

// timeoutSeconds rounds d up to whole seconds, the client's resolution.
// Zero would mean no timeout, so the result is at least 1.
func timeoutSeconds(d time.Duration) uint {
	s := uint(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(timeoutSeconds(timeout))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	device := cfg.Device
	if device == "" {
		device = "PV-EMU-1"
	}
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		device:   device,
	}
}

func (s *InfluxSink) Emit(ctx context.Context, alerts []model.AlertEvent) error {
	points := make([]*write.Point, 0, len(alerts))
	for _, a := range alerts {
		p := influxdb2.NewPointWithMeasurement("cladpv_alert").
			AddTag("device", s.device).
			AddTag("rule", string(a.Rule)).
			AddField("details", a.Details).
			SetTime(a.Timestamp)
		points = append(points, p)
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write alerts: %w", err)
	}
	return nil
}

func (s *InfluxSink) Record(ctx context.Context, r model.Reading) error {
	p := influxdb2.NewPointWithMeasurement("cladpv_reading").
		AddTag("device", s.device).
		AddField("V1_V", r.V1V).
		AddField("V1_pu", r.V1PU).
		AddField("f_Hz", r.FHz).
		AddField("P_PV_kW", r.PPVkW).
		AddField("Q_PV_kVAR", r.QPVkVAR).
		AddField("P_Source_kW", r.PSourcekW).
		AddField("Q_Source_kVAR", r.QSourcekVAR).
		AddField("pf_src", r.PFSource).
		AddField("pf_pv", r.PFPV).
		SetTime(r.At)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write reading: %w", err)
	}
	return nil
}

func (s *InfluxSink) Close() {
	s.client.Close()
}
