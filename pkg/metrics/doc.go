/*
Package metrics provides Prometheus metrics collection and exposition for
nexus, per spec §6 (Observability).

The metrics package defines and registers every nexus counter, gauge, and
histogram using the Prometheus client library, and exposes them via an
HTTP handler for scraping.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  Prometheus Registry (global DefaultRegisterer)           │
	│    - MustRegister at package init                         │
	│                                                            │
	│  Metric Categories                                        │
	│    - Routing: events_published/handled/dropped_total      │
	│    - Actors: active_actors gauge                          │
	│    - Handlers: handler_exceptions_total                   │
	│    - Latency: publish/handle_latency_seconds histograms   │
	│    - Event Store: append duration, concurrency conflicts, │
	│      snapshots created                                    │
	│    - Subscriptions: reconnects_total by outcome           │
	│                                                            │
	│  Collector (ticker-driven, mirrors Warren's manager        │
	│  poller) samples ActiveActorsGauge from an ActorSource    │
	│  (pkg/runtime.Manager) every 15s                          │
	└────────────────────────────────────────────────────────────┘

# Usage

	metrics.EventsPublishedTotal.WithLabelValues("down").Inc()

	timer := metrics.NewTimer()
	// ... route the envelope ...
	timer.ObserveDuration(metrics.PublishLatency)

	http.Handle("/metrics", metrics.Handler())

# Collector

	collector := metrics.NewCollector(runtimeManager)
	collector.Start()
	defer collector.Stop()

# Health

GetHealth/GetReadiness/HealthHandler/ReadyHandler/LivenessHandler (in
health.go) track a small set of named components — "eventstore",
"runtime", "actor_registry" — the same RegisterComponent/UpdateComponent
pattern Warren used for "raft"/"containerd"/"api", generalized to the
subsystems a nexus host process actually owns.
*/
package metrics
