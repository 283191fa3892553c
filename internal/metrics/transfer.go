package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TransferMetrics records wagon transfers and write sessions
type TransferMetrics struct {
	transfersTotal  *prometheus.CounterVec
	bytesTotal      *prometheus.CounterVec
	sessionsTotal   *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	sessionFiles    prometheus.Histogram
}

var (
	transferOnce    sync.Once
	transferMetrics *TransferMetrics
)

// NewTransferMetrics returns the process-wide transfer metrics.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewTransferMetrics() *TransferMetrics {
	if !IsEnabled() {
		return nil
	}
	transferOnce.Do(func() {
		transferMetrics = newTransferMetrics(GetRegistry())
	})
	return transferMetrics
}

func newTransferMetrics(reg prometheus.Registerer) *TransferMetrics {
	return &TransferMetrics{
		transfersTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Total number of transfers by request type and outcome",
			},
			[]string{"request", "outcome"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_bytes_total",
				Help:      "Total bytes transferred by request type",
			},
			[]string{"request"},
		),
		sessionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "write_sessions_total",
				Help:      "Total number of write sessions by outcome",
			},
			[]string{"outcome"},
		),
		sessionDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_session_duration_seconds",
				Help:      "Time between the first buffered change and commit or abort",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		sessionFiles: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_session_files",
				Help:      "Number of files written per write session",
				Buckets:   []float64{1, 2, 5, 10, 50, 100, 500, 1000},
			},
		),
	}
}

// ObserveTransfer records one finished get or put
func (m *TransferMetrics) ObserveTransfer(request string, n int64, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.transfersTotal.WithLabelValues(request, outcome).Inc()
	if n > 0 {
		m.bytesTotal.WithLabelValues(request).Add(float64(n))
	}
}

// ObserveSession records one closed write session.
// outcome is "committed", "aborted" or "failed".
func (m *TransferMetrics) ObserveSession(outcome string, duration time.Duration, files int) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(outcome).Inc()
	m.sessionDuration.Observe(duration.Seconds())
	m.sessionFiles.Observe(float64(files))
}
