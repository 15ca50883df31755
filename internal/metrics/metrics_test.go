package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"empires/internal/game"
)

func TestInstancesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.ObserveCommand("place_bid", "ok")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.CommandsTotal.WithLabelValues("place_bid", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CommandsTotal.WithLabelValues("place_bid", "ok")))
}

func TestObserveTick(t *testing.T) {
	m := New()
	m.ObserveTick("income", nil, 10*time.Millisecond)
	m.ObserveTick("income", errors.New("db down"), time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("income", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("income", "error")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "empires_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestInFlightGauge(t *testing.T) {
	m := New()
	var during float64
	h := m.InFlight(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(m.HTTPRequestsInFlight)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/me", nil))
	assert.Equal(t, 1.0, during)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HTTPRequestsInFlight))
}

func TestObserveReports(t *testing.T) {
	m := New()
	m.ObserveIncome(game.IncomeReport{PaidToUsers: 320, PaidToClans: 40})
	m.ObserveExpiry(game.ExpiryReport{Due: 3, Settled: 2, Skipped: 1})
	assert.Equal(t, 320.0, testutil.ToFloat64(m.IncomePaidTotal.WithLabelValues("user")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.IncomePaidTotal.WithLabelValues("clan")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuctionsSettled.WithLabelValues("settled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuctionsSettled.WithLabelValues("skipped")))
}
