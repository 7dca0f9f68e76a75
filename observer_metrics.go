package xledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsObserver exports bus lifecycle events as Prometheus metrics.
// Attach it through the builder: WithObserver(NewMetricsObserver(reg)).
type MetricsObserver struct {
	published  *prometheus.CounterVec
	consumed   *prometheus.CounterVec
	acked      *prometheus.CounterVec
	retried    *prometheus.CounterVec
	errored    prometheus.Counter
	processing prometheus.Histogram
}

// NewMetricsObserver registers the bus metric set on reg (use
// prometheus.DefaultRegisterer for the process default).
func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	m := &MetricsObserver{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xledger_events_published_total",
			Help: "Total number of events accepted by the durable log, labelled by kind.",
		}, []string{"kind"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xledger_events_consumed_total",
			Help: "Total number of records entering consumer processing, labelled by subscriber.",
		}, []string{"subscriber"}),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xledger_events_acked_total",
			Help: "Total number of acked records, labelled by subscriber and outcome (ok, dedup, permanent).",
		}, []string{"subscriber", "outcome"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xledger_events_retry_pending_total",
			Help: "Total number of transient failures left unacked for redelivery, labelled by subscriber.",
		}, []string{"subscriber"}),
		errored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xledger_errors_total",
			Help: "Total number of internal bus errors.",
		}),
		processing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "xledger_processing_duration_ms",
			Help:    "Handler processing latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.published, m.consumed, m.acked, m.retried, m.errored, m.processing)
	}
	return m
}

func (m *MetricsObserver) OnEvent(e BusEvent) {
	switch e.Type {
	case EventPublishDone:
		if e.Err == nil {
			m.published.WithLabelValues(e.Kind).Inc()
		} else {
			m.errored.Inc()
		}
	case EventConsumeStart:
		m.consumed.WithLabelValues(e.Subscriber).Inc()
	case EventConsumeDone:
		if e.Duration > 0 {
			m.processing.Observe(float64(e.Duration.Milliseconds()))
		}
	case EventAck:
		m.acked.WithLabelValues(e.Subscriber, "ok").Inc()
	case EventAckDedup:
		m.acked.WithLabelValues(e.Subscriber, "dedup").Inc()
	case EventAckPermanent:
		m.acked.WithLabelValues(e.Subscriber, "permanent").Inc()
	case EventRetryPending:
		m.retried.WithLabelValues(e.Subscriber).Inc()
	case EventError, EventReplayHalt:
		m.errored.Inc()
	}
}
