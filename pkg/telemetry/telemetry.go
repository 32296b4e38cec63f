package telemetry

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_messages_appended_total",
		Help: "Messages appended to channel logs.",
	})
	MessagesEdited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_messages_edited_total",
		Help: "Message edits applied.",
	})
	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_messages_deleted_total",
		Help: "Messages tombstoned.",
	})
	FanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_fanout_dropped_total",
		Help: "Events dropped because the fanout buffer was full.",
	})
	SubscriberOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_subscriber_overflows_total",
		Help: "Push subscribers disconnected because their outbound queue overflowed.",
	})
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_push_subscribers",
		Help: "Currently connected push subscribers.",
	})
	PollRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_poll_requests_total",
		Help: "fetchSince poll requests served.",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatcore_http_request_duration_seconds",
		Help:    "HTTP request latency by method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

// Handler exposes the prometheus registry; mounted at /metrics.
func Handler() http.Handler { return promhttp.Handler() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying writer so websocket upgrades work
// through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware records request timing and status for every HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		httpDuration.WithLabelValues(r.Method, strconv.Itoa(srw.status)).Observe(time.Since(start).Seconds())
	})
}
