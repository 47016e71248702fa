package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/your-org/faceid/internal/faceid"
)

var (
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "auth_attempts_total",
		Help:      "Authentication attempts by method and outcome",
	}, []string{"method", "outcome", "reason"})

	MatchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "match_distance",
		Help:      "Nearest Euclidean distance observed per face attempt",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 12),
	})

	MatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "match_duration_seconds",
		Help:      "Duration of a face attempt from idle to a terminal state",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	RecordsScanned = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "records_scanned",
		Help:      "Enrollment records compared per probe",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	DimensionMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "dimension_mismatches_total",
		Help:      "Enrollment records skipped because their dimension differs from the probe",
	})

	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "enrollments_total",
		Help:      "Enrollment requests by outcome",
	}, []string{"outcome"})

	EventsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "auth_events_persisted_total",
		Help:      "Authentication events written to the audit table",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceid",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)

// AttemptMetrics records terminal attempts. It satisfies faceid.Listener.
type AttemptMetrics struct{}

func (AttemptMetrics) OnAuthenticated(_ context.Context, a *faceid.Attempt) {
	observe(a, "authenticated")
}

func (AttemptMetrics) OnRejected(_ context.Context, a *faceid.Attempt) {
	observe(a, "rejected")
}

func observe(a *faceid.Attempt, outcome string) {
	AuthAttempts.WithLabelValues(a.Method, outcome, string(a.Reason)).Inc()
	MatchDuration.Observe(a.FinishedAt.Sub(a.StartedAt).Seconds())
	if a.Result.Scanned > 0 {
		MatchDistance.Observe(a.Result.Distance)
	}
	RecordsScanned.Observe(float64(a.Result.Scanned))
	DimensionMismatches.Add(float64(len(a.Result.Mismatched)))
}
