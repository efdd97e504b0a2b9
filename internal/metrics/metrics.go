package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "ntmirror_"

	// DefaultName labels the collectors of a mirror that was not given a name.
	DefaultName = "default"

	ResultSuccess     = "success"
	ResultRejected    = "rejected"
	ResultMismatch    = "type_mismatch"
	ResultRateLimited = "rate_limited"
	ResultCancelled   = "cancelled"
	ResultError       = "error"
)

// Metrics groups the mirror's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	eventsTotal     *prometheus.CounterVec
	writesTotal     *prometheus.CounterVec
	recordingsTotal *prometheus.CounterVec
	recordedValues  prometheus.Counter
	topics          prometheus.Gauge
	connected       prometheus.Gauge
}

// New builds the collectors and registers them with reg when it is not nil.
// Every series carries a mirror=name label, so mirrors with distinct names can
// share one registry. Mirrors registering under the same name share collectors.
func New(reg prometheus.Registerer, name string) *Metrics {
	if name == "" {
		name = DefaultName
	}
	labels := prometheus.Labels{"mirror": name}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        metricPrefix + "events_total",
				Help:        "Bus events applied to the local caches by kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        metricPrefix + "writes_total",
				Help:        "Value writes by result",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		recordingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        metricPrefix + "recordings_total",
				Help:        "Recording sessions by result",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		recordedValues: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        metricPrefix + "recorded_values_total",
				Help:        "Value updates captured by recording sessions",
				ConstLabels: labels,
			},
		),
		topics: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        metricPrefix + "topics",
				Help:        "Topics currently known to the mirror",
				ConstLabels: labels,
			},
		),
		connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        metricPrefix + "connected",
				Help:        "1 while the bus reports a live connection",
				ConstLabels: labels,
			},
		),
	}

	if reg == nil {
		return m
	}

	m.eventsTotal = register(reg, m.eventsTotal)
	m.writesTotal = register(reg, m.writesTotal)
	m.recordingsTotal = register(reg, m.recordingsTotal)
	m.recordedValues = register(reg, m.recordedValues)
	m.topics = register(reg, m.topics)
	m.connected = register(reg, m.connected)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) Write(result string) {
	if m == nil {
		return
	}
	m.writesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Recording(result string, values int) {
	if m == nil {
		return
	}
	m.recordingsTotal.WithLabelValues(result).Inc()
	m.recordedValues.Add(float64(values))
}

func (m *Metrics) Topics(n int) {
	if m == nil {
		return
	}
	m.topics.Set(float64(n))
}

func (m *Metrics) Connected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}
