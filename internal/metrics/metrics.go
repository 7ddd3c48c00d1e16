// Package metrics exposes gateway counters and gauges to Prometheus.
// No collector carries the curtailment setpoint.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	publisherTicks  prometheus.Counter
	heartbeat       prometheus.Gauge
	commands        *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	readErrors      prometheus.Counter
	discardedWrites *prometheus.CounterVec
	tickDuration    *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New builds the collectors and registers them on reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		publisherTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cladpv_publisher_ticks_total",
			Help: "Register image publications.",
		}),
		heartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cladpv_heartbeat",
			Help: "Last heartbeat value written to the input register.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cladpv_commands_total",
			Help: "Curtailment commands by result.",
		}, []string{"result"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cladpv_alerts_total",
			Help: "Anomaly alerts raised by rule.",
		}, []string{"rule"}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cladpv_monitor_read_errors_total",
			Help: "Monitor polls that failed to read the register image.",
		}),
		discardedWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cladpv_discarded_writes_total",
			Help: "Protocol writes accepted and dropped, by register bank.",
		}, []string{"bank"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cladpv_tick_duration_seconds",
			Help:    "Wall time of one loop iteration.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"loop"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.publisherTicks, m.heartbeat, m.commands,
		m.alerts, m.readErrors, m.discardedWrites, m.tickDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) PublisherTick(heartbeat uint16) {
	if m == nil {
		return
	}
	m.publisherTicks.Inc()
	m.heartbeat.Set(float64(heartbeat))
}

func (m *Metrics) ObserveCommand(result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(result).Inc()
}

func (m *Metrics) Alert(rule string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(rule).Inc()
}

func (m *Metrics) MonitorReadError() {
	if m == nil {
		return
	}
	m.readErrors.Inc()
}

func (m *Metrics) DiscardedWrite(bank string) {
	if m == nil {
		return
	}
	m.discardedWrites.WithLabelValues(bank).Inc()
}

// ObserveTick matches schedule.Config.Observe.
func (m *Metrics) ObserveTick(loop string, d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(loop).Observe(d.Seconds())
}
