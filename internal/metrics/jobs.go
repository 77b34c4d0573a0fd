// Package metrics provides Prometheus metrics for the download job lifecycle.
// Labels stay low-cardinality: no user ids, no URLs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"teleube/internal/job"
)

var (
	// JobsAdmittedTotal counts jobs that won an admission slot, by quality.
	JobsAdmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teleube_jobs_admitted_total",
		Help: "Total number of admitted download jobs, by quality.",
	}, []string{"quality"})

	JobsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teleube_jobs_rejected_total",
		Help: "Total number of submissions rejected because the user already had an active job.",
	})

	// JobsFinishedTotal counts terminal outcomes by state and failure kind.
	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teleube_jobs_finished_total",
		Help: "Total number of finished download jobs, by terminal state and failure kind.",
	}, []string{"state", "kind"})

	PersistenceWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teleube_persistence_warnings_total",
		Help: "Total number of completed deliveries whose usage record could not be saved.",
	})

	DeliveredBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teleube_delivered_bytes_total",
		Help: "Total bytes delivered to chat users.",
	})

	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "teleube_jobs_active",
		Help: "Current number of jobs holding an admission slot.",
	})

	JobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "teleube_job_duration_seconds",
		Help:    "Wall time from admission to terminal state.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
	}, []string{"state"})

	// CommandsTotal counts handled chat requests by command and result.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teleube_commands_total",
		Help: "Total number of handled chat commands and callbacks, by command and result.",
	}, []string{"command", "result"})

	CommandDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "teleube_command_duration_seconds",
		Help:    "Handler time per chat command; download jobs run outside it.",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"command"})

	JanitorRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teleube_janitor_removed_total",
		Help: "Total number of stale files removed from the download directory.",
	})
)

// Recorder feeds job lifecycle events into the package metrics.
// The zero value is ready to use.
type Recorder struct{}

func (Recorder) Admitted(q string) {
	JobsAdmittedTotal.WithLabelValues(q).Inc()
	JobsActive.Inc()
}

func (Recorder) Rejected() { JobsRejectedTotal.Inc() }

// Finished must follow exactly one Admitted call.
func (Recorder) Finished(out job.Outcome) {
	JobsActive.Dec()
	state := string(out.State)
	kind := string(out.Kind())
	if kind == "" {
		kind = "none"
	}
	JobsFinishedTotal.WithLabelValues(state, kind).Inc()
	JobDurationSeconds.WithLabelValues(state).Observe(out.Elapsed.Seconds())
	if out.State == job.StateCompleted {
		DeliveredBytesTotal.Add(float64(out.Bytes))
		if out.Warning != nil {
			PersistenceWarningsTotal.Inc()
		}
	}
}

// RecordCommand matches router.ObserveFunc once result is converted to string.
func RecordCommand(command, result string, took time.Duration) {
	CommandsTotal.WithLabelValues(command, result).Inc()
	CommandDurationSeconds.WithLabelValues(command).Observe(took.Seconds())
}

func RecordJanitorRemoved(n int) {
	if n > 0 {
		JanitorRemovedTotal.Add(float64(n))
	}
}
