package generichttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts and times the requests served by each node
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labctl",
			Name:      "http_requests_total",
			Help:      "Requests served, by node, method and status code.",
		}, []string{"node", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "labctl",
			Name:      "http_request_duration_seconds",
			Help:      "Time to serve a request, including instrument I/O.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"node", "method"}),
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

// Instrument returns a middleware recording requests under the node label
func (m *Metrics) Instrument(node string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			m.requests.WithLabelValues(node, r.Method, strconv.Itoa(code)).Inc()
			m.latency.WithLabelValues(node, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
