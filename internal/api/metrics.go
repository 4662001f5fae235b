package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the API server
type Metrics struct {
	registry *prometheus.Registry

	RequestDuration  *prometheus.HistogramVec
	ComputeDuration  *prometheus.HistogramVec
	InsufficientData *prometheus.CounterVec
	WSClients        prometheus.GaugeFunc
	QueueDepth       prometheus.GaugeFunc
}

// NewMetrics creates the collectors on a dedicated registry. queueDepth and
// wsClients are sampled on every scrape.
func NewMetrics(queueDepth, wsClients func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradelab_http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route and status code",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "code"},
		),

		ComputeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradelab_compute_duration_seconds",
				Help:    "Duration of analytics computations by kind and outcome",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"kind", "result"},
		),

		InsufficientData: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradelab_insufficient_data_total",
				Help: "Total number of computations rejected for insufficient price history",
			},
			[]string{"kind"},
		),

		QueueDepth: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "tradelab_worker_queue_depth",
				Help: "Number of computations waiting for a worker",
			},
			func() float64 { return float64(queueDepth()) },
		),

		WSClients: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "tradelab_websocket_clients",
				Help: "Number of connected WebSocket clients",
			},
			func() float64 { return float64(wsClients()) },
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestDuration,
		m.ComputeDuration,
		m.InsufficientData,
		m.QueueDepth,
		m.WSClients,
	)

	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCompute records the duration of one computation
func (m *Metrics) ObserveCompute(kind string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ComputeDuration.WithLabelValues(kind, result).Observe(time.Since(start).Seconds())
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware times every request under its route template
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		m.RequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
