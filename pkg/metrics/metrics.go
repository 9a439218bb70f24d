package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsPublishedTotal counts envelopes published via Agent.Publish, by
	// direction, per §6.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_events_published_total",
			Help: "Total number of envelopes published, by direction",
		},
		[]string{"direction"},
	)

	// EventsHandledTotal counts envelopes that reached HandleEvent and were
	// dispatched to at least one handler, by agent type.
	EventsHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_events_handled_total",
			Help: "Total number of envelopes handled, by agent type",
		},
		[]string{"agent_type"},
	)

	// EventsDroppedTotal counts envelopes the router declined to deliver,
	// by reason (loop_detected, hop_exceeded, stop_propagation). Stream
	// Drop-policy drops are counted by StreamDroppedTotal instead.
	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_events_dropped_total",
			Help: "Total number of envelopes dropped, by reason",
		},
		[]string{"reason"},
	)

	// ActiveActorsGauge tracks currently activated actors.
	ActiveActorsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexus_active_actors",
			Help: "Number of currently activated actors",
		},
	)

	// ExceptionsTotal counts recovered handler exceptions, by agent type and
	// handler name, per §4.6's HandlerExceptionEvent.
	ExceptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_handler_exceptions_total",
			Help: "Total number of recovered handler exceptions",
		},
		[]string{"agent_type", "handler"},
	)

	// PublishLatency observes the time spent in Agent.Publish, including
	// router fan-out, per §6.
	PublishLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexus_publish_latency_seconds",
			Help:    "Time spent routing a published envelope, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HandleLatency observes the time spent in Agent.HandleEvent, including
	// handler dispatch, per §6.
	HandleLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexus_handle_latency_seconds",
			Help:    "Time spent dispatching a delivered envelope to handlers, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StreamDroppedTotal counts envelopes dropped under stream.Drop policy,
	// per SPEC_FULL.md's backpressure-counter supplement.
	StreamDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_stream_dropped_total",
			Help: "Total number of envelopes dropped under the stream Drop policy",
		},
		[]string{"stream_id"},
	)

	// EventStoreAppendDuration observes Event Store append latency.
	EventStoreAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexus_eventstore_append_duration_seconds",
			Help:    "Time taken to append a batch of events to the Event Store, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ConcurrencyConflictsTotal counts AppendEvents calls rejected for a
	// stale expected_version.
	ConcurrencyConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_eventstore_concurrency_conflicts_total",
			Help: "Total number of Event Store appends rejected for a stale expected_version",
		},
	)

	// SnapshotsCreatedTotal counts snapshots written by the snapshot policy.
	SnapshotsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_snapshots_created_total",
			Help: "Total number of snapshots created, by agent type",
		},
		[]string{"agent_type"},
	)

	// SubscriptionReconnectsTotal counts Subscription Manager reconnect
	// attempts, by outcome.
	SubscriptionReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_subscription_reconnects_total",
			Help: "Total number of subscription reconnect attempts, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(EventsHandledTotal)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(ActiveActorsGauge)
	prometheus.MustRegister(ExceptionsTotal)
	prometheus.MustRegister(PublishLatency)
	prometheus.MustRegister(HandleLatency)
	prometheus.MustRegister(StreamDroppedTotal)
	prometheus.MustRegister(EventStoreAppendDuration)
	prometheus.MustRegister(ConcurrencyConflictsTotal)
	prometheus.MustRegister(SnapshotsCreatedTotal)
	prometheus.MustRegister(SubscriptionReconnectsTotal)
}

// Handler returns the Prometheus HTTP handler for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
