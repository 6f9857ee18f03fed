package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/defistate/arbitrage-engine/state"
)

// newMux serves Prometheus metrics and the liveness and readiness probes.
// The engine is ready once it holds a snapshot younger than maxAge.
func newMux(reg *prometheus.Registry, store *state.Store, maxAge time.Duration, now func() time.Time) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		snap := store.Current()
		switch {
		case snap.Version == 0:
			http.Error(w, "no snapshot", http.StatusServiceUnavailable)
		case snap.Age(now()) > maxAge:
			http.Error(w, "snapshot stale", http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		}
	})
	return mux
}
