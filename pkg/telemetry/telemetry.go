// Package telemetry exposes request metrics on the default Prometheus
// registry, served by the app at /metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_http_requests_total",
		Help: "HTTP requests by method and status.",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	messagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_appended_total",
		Help: "Messages appended to conversation logs.",
	})

	typingPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_typing_signals_purged_total",
		Help: "Stale typing signals removed by the retention runner.",
	})
)

// Middleware records request counts and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		requestsTotal.WithLabelValues(r.Method, strconv.Itoa(srw.status)).Inc()
		requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// CountMessageAppended bumps the message append counter.
func CountMessageAppended() { messagesAppended.Inc() }

// CountTypingPurged adds to the purged typing signal counter.
func CountTypingPurged(n int) { typingPurged.Add(float64(n)) }

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
