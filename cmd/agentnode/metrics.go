package main

import (
	"net/http"

	"github.com/cuemby/nexus/pkg/metrics"
)

// metricsMux builds the scrape and health endpoint handlers, matching
// Warren's own promhttp.Handler() plus health/readiness mount under
// cmd/warren.
func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	return mux
}

// serveHTTP blocks serving mux on addr; callers run it in its own
// goroutine.
func serveHTTP(addr string, mux *http.ServeMux) error {
	return http.ListenAndServe(addr, mux)
}
