package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketchat",
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Current number of authenticated WebSocket connections.",
		},
	)

	authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketchat",
			Subsystem: "ws",
			Name:      "auth_failures_total",
			Help:      "Rejected handshakes by reason.",
		},
		[]string{"reason"},
	)

	droppedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketchat",
			Subsystem: "ws",
			Name:      "dropped_frames_total",
			Help:      "Outbound frames dropped because the connection was closed or its buffer was full.",
		},
	)

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketchat",
			Subsystem: "delivery",
			Name:      "messages_total",
			Help:      "Messages accepted by the delivery engine by resulting status.",
		},
		[]string{"status"},
	)

	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketchat",
			Subsystem: "delivery",
			Name:      "status_transitions_total",
			Help:      "Message status transitions by target status.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketchat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		connectionsActive,
		authFailures,
		droppedFrames,
		messagesSent,
		statusTransitions,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency using the matched route path.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			httpRequests.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			httpDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func ConnectionOpened() { connectionsActive.Inc() }
func ConnectionClosed() { connectionsActive.Dec() }

func AuthFailure(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	authFailures.WithLabelValues(reason).Inc()
}

func FrameDropped() { droppedFrames.Inc() }

func MessageAccepted(status string) {
	messagesSent.WithLabelValues(status).Inc()
}

// StatusTransitions records n messages moving to status.
func StatusTransitions(status string, n int) {
	if n <= 0 {
		return
	}
	statusTransitions.WithLabelValues(status).Add(float64(n))
}
