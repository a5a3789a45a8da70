package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "judgeflow"

// Metrics holds Prometheus metrics for the submission pipeline
type Metrics struct {
	SubmissionsReceived *prometheus.CounterVec
	JudgedTotal         *prometheus.CounterVec
	OracleDuration      *prometheus.HistogramVec
	JobsInFlight        prometheus.Gauge
	JobRetries          prometheus.Counter
	JobsReaped          prometheus.Counter
	LeaderboardUpdates  *prometheus.CounterVec
}

// New registers the pipeline metrics with reg. Pass prometheus.DefaultRegisterer
// in processes and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SubmissionsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "intake",
				Name:      "submissions_total",
				Help:      "Submission attempts by outcome",
			},
			[]string{"outcome"}, // accepted, rate_limited, invalid, not_found, error
		),
		JudgedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "judge",
				Name:      "judged_total",
				Help:      "Submissions that reached a terminal status",
			},
			[]string{"status", "verdict"},
		),
		OracleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "judge",
				Name:      "oracle_duration_seconds",
				Help:      "Oracle call latency",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"result"}, // ok, error, timeout, unparsable
		),
		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed",
		}),
		JobRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_retries_total",
			Help:      "Jobs re-enqueued after a transient failure",
		}),
		JobsReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "jobs_reaped_total",
			Help:      "Stale submissions re-enqueued by the reaper",
		}),
		LeaderboardUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "leaderboard",
				Name:      "recomputes_total",
				Help:      "Leaderboard recomputations by result",
			},
			[]string{"result"},
		),
	}
}
