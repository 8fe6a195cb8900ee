package ingest

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/irrigation-core/internal/telemetry"
)

const metricsNamespace = "irrigation"

// Outcome labels for processed messages.
const (
	OutcomeOK          = "ok"
	OutcomeParse       = "parse_error"
	OutcomePersistence = "persistence_error"
	OutcomeUnknown     = "unknown_topic"
	OutcomeFailed      = "failed"
)

// Metrics exports pipeline counters to Prometheus. It is both a Recorder
// for the Dispatcher and an Observer for stored records.
type Metrics struct {
	received    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	processed   *prometheus.CounterVec
	readings    prometheus.Counter
	moisture    prometheus.Gauge
	relayEvents *prometheus.CounterVec
	relayOn     prometheus.Gauge
	alerts      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Broker messages accepted onto a topic queue.",
		}, []string{"topic"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_dropped_total",
			Help:      "Broker messages dropped before processing.",
		}, []string{"topic", "reason"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_processed_total",
			Help:      "Messages processed, by outcome.",
		}, []string{"topic", "outcome"}),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "readings_stored_total",
			Help:      "Moisture readings written to storage.",
		}),
		moisture: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "moisture_percent",
			Help:      "Most recently stored moisture reading.",
		}),
		relayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "relay_events_stored_total",
			Help:      "Relay events written to storage, by action.",
		}, []string{"action"}),
		relayOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "relay_on",
			Help:      "1 when the last recorded relay event was on.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts written to storage, by kind.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		m.received, m.dropped, m.processed, m.readings,
		m.moisture, m.relayEvents, m.relayOn, m.alerts,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) MessageReceived(topic string) {
	m.received.WithLabelValues(topic).Inc()
}

func (m *Metrics) MessageDropped(topic, reason string) {
	m.dropped.WithLabelValues(topic, reason).Inc()
}

func (m *Metrics) MessageProcessed(topic string, err error) {
	m.processed.WithLabelValues(topic, outcome(err)).Inc()
}

func (m *Metrics) OnReading(r *telemetry.Reading) {
	m.readings.Inc()
	m.moisture.Set(r.Value)
}

func (m *Metrics) OnRelayEvent(e *telemetry.RelayEvent) {
	m.relayEvents.WithLabelValues(string(e.Action)).Inc()
	if e.Action == telemetry.RelayOn {
		m.relayOn.Set(1)
	} else {
		m.relayOn.Set(0)
	}
}

func (m *Metrics) OnAlert(a *telemetry.Alert) {
	m.alerts.WithLabelValues(string(a.Kind)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrParse):
		return OutcomeParse
	case errors.Is(err, ErrPersistence):
		return OutcomePersistence
	case errors.Is(err, ErrUnknownTopic):
		return OutcomeUnknown
	default:
		return OutcomeFailed
	}
}
