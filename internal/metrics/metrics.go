package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	namespace = "teamboard"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Comment metrics
	CommentOpsTotal   *prometheus.CounterVec
	SnapshotsTotal    *prometheus.CounterVec
	OrphansSweptTotal prometheus.Counter
	WebsocketClients  prometheus.Gauge

	logger *zap.Logger
}

// New creates and registers all metrics with the default registry
func New(logger *zap.Logger) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, logger)
}

// NewWithRegistry creates and registers all metrics with a custom registry
func NewWithRegistry(registerer prometheus.Registerer, logger *zap.Logger) *Metrics {
	factory := promauto.With(registerer)

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		CommentOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "comment_operations_total",
				Help:      "Comment mutations by scope, operation and result",
			},
			[]string{"scope", "op", "result"},
		),
		SnapshotsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "comment_snapshots_total",
				Help:      "Snapshot notifications applied by controllers",
			},
			[]string{"scope"},
		),
		OrphansSweptTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "comment_orphans_swept_total",
				Help:      "Replies removed because their parent no longer exists",
			},
		),
		WebsocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Currently connected websocket clients",
			},
		),
		logger: logger,
	}
}

// RecordCommentOp counts one controller operation; result is ok, invalid, denied or error.
func (m *Metrics) RecordCommentOp(scope, op string, result string) {
	m.safeExecute("RecordCommentOp", func() {
		m.CommentOpsTotal.WithLabelValues(scope, op, result).Inc()
	})
}

func (m *Metrics) RecordSnapshot(scope string) {
	m.safeExecute("RecordSnapshot", func() {
		m.SnapshotsTotal.WithLabelValues(scope).Inc()
	})
}

func (m *Metrics) AddOrphansSwept(n int) {
	m.safeExecute("AddOrphansSwept", func() {
		m.OrphansSweptTotal.Add(float64(n))
	})
}

func (m *Metrics) WebsocketConnected() {
	m.safeExecute("WebsocketConnected", func() {
		m.WebsocketClients.Inc()
	})
}

func (m *Metrics) WebsocketDisconnected() {
	m.safeExecute("WebsocketDisconnected", func() {
		m.WebsocketClients.Dec()
	})
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.safeExecute("RecordHTTPRequest", func() {
		m.HTTPRequestsTotal.WithLabelValues(method, route, categorizeStatus(statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	})
}

// categorizeStatus converts status code to category (2xx, 3xx, 4xx, 5xx)
func categorizeStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// ShouldSkipEndpoint checks if endpoint should be excluded from metrics
func ShouldSkipEndpoint(path string) bool {
	return path == "/metrics" || path == "/healthz"
}

func (m *Metrics) safeExecute(name string, fn func()) {
	if m == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Metrics operation panicked", zap.String("operation", name), zap.Any("panic", r))
		}
	}()
	fn()
}
