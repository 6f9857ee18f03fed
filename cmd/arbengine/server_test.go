package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/arbitrage-engine/state"
)

func TestMux(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	store := state.NewStore(state.WithClock(func() time.Time { return now }))

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "probe"}))
	mux := newMux(reg, store, 10*time.Second, func() time.Time { return clock })

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code, "no snapshot yet")

	_, err := store.Replace(1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	clock = now.Add(11 * time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code, "stale snapshot")

	metrics := get("/metrics")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "probe_total 0")
}
