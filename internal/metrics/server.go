package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServerMetrics records HTTP requests and commits served by the repository server
type ServerMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	commitsTotal    *prometheus.CounterVec
	authFailures    prometheus.Counter
}

var (
	serverOnce    sync.Once
	serverMetrics *ServerMetrics
)

// NewServerMetrics returns the process-wide server metrics.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewServerMetrics() *ServerMetrics {
	if !IsEnabled() {
		return nil
	}
	serverOnce.Do(func() {
		serverMetrics = newServerMetrics(GetRegistry())
	})
	return serverMetrics
}

func newServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	return &ServerMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		commitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_total",
				Help:      "Total number of commit requests by outcome",
			},
			[]string{"outcome"},
		),
		authFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of rejected credentials",
			},
		),
	}
}

// ObserveRequest records one HTTP request
func (m *ServerMetrics) ObserveRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveCommit records one commit request
func (m *ServerMetrics) ObserveCommit(err error) {
	if m == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = "rejected"
	}
	m.commitsTotal.WithLabelValues(outcome).Inc()
}

// AuthFailure records one rejected credential
func (m *ServerMetrics) AuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}
