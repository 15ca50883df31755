// Package metrics holds the Prometheus collectors shared by the API and the
// worker. Collectors live on a private registry so tests can build as many
// instances as they like.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"empires/internal/game"
)

const namespace = "empires"

type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Commands
	CommandsTotal *prometheus.CounterVec

	// Scheduler
	TicksTotal      *prometheus.CounterVec
	TickDuration    *prometheus.HistogramVec
	IncomePaidTotal *prometheus.CounterVec
	AuctionsSettled *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		CommandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Executed commands by name and result code",
			},
			[]string{"command", "code"},
		),
		TicksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "ticks_total",
				Help:      "Scheduler ticks by job and status",
			},
			[]string{"job", "status"},
		),
		TickDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tick_duration_seconds",
				Help:      "Scheduler tick duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"job"},
		),
		IncomePaidTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "income_paid_total",
				Help:      "Income credited by the income tick, by payee kind",
			},
			[]string{"payee"},
		),
		AuctionsSettled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "auctions_total",
				Help:      "Auctions handled by the expiry tick, by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InFlight tracks concurrent requests served by next.
func (m *Metrics) InFlight(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(m.HTTPRequestsInFlight, next)
}

func (m *Metrics) ObserveCommand(name, code string) {
	m.CommandsTotal.WithLabelValues(name, code).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTick(job string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TicksTotal.WithLabelValues(job, status).Inc()
	m.TickDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveIncome(r game.IncomeReport) {
	m.IncomePaidTotal.WithLabelValues("user").Add(float64(r.PaidToUsers))
	m.IncomePaidTotal.WithLabelValues("clan").Add(float64(r.PaidToClans))
}

func (m *Metrics) ObserveExpiry(r game.ExpiryReport) {
	m.AuctionsSettled.WithLabelValues("settled").Add(float64(r.Settled))
	m.AuctionsSettled.WithLabelValues("skipped").Add(float64(r.Skipped))
	m.AuctionsSettled.WithLabelValues("failed").Add(float64(r.Failures))
}
