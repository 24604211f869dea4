// Package metrics exposes the pipeline's Prometheus instrumentation:
// per-task duration/outcome, retry counts, records extracted, bytes
// transferred, and operation-log housekeeping — the same promauto +
// safeRegister + MetricsServer shape as a larger collector set, collapsed
// down to the handful the extraction pipeline's task set actually emits.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// TaskDuration records wall-clock time spent in each task slot.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extraction_pipeline_task_duration_seconds",
			Help:    "Time spent executing each task slot",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline", "task_slot"},
	)

	// TaskOutcomeTotal counts task completions by outcome ("success" or
	// "failure"); bypassed and filtered-out slots are not counted.
	TaskOutcomeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_pipeline_task_outcome_total",
			Help: "Total number of task slot completions by outcome",
		},
		[]string{"pipeline", "task_slot", "outcome"},
	)

	// RetryAttemptsTotal counts retry attempts made by the retry envelope,
	// per task slot.
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_pipeline_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"task_slot"},
	)

	// RecordsExtractedTotal counts rows pulled from a record source.
	RecordsExtractedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_pipeline_records_extracted_total",
			Help: "Total number of records pulled from a source",
		},
		[]string{"pipeline", "source_kind"},
	)

	// BytesTransferredTotal counts bytes moved by the transfer task.
	BytesTransferredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_pipeline_bytes_transferred_total",
			Help: "Total bytes moved by the cloud transfer task",
		},
		[]string{"pipeline"},
	)

	// FilesProducedTotal counts output files written by the extraction or
	// archive tasks.
	FilesProducedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_pipeline_files_produced_total",
			Help: "Total number of output files produced",
		},
		[]string{"pipeline", "task_slot"},
	)

	// OperationLogRowsTotal counts rows appended to the operation log.
	OperationLogRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_pipeline_operation_log_rows_total",
			Help: "Total number of operation-log rows appended",
		},
		[]string{"status"},
	)

	// OperationLogCompactionsTotal counts vacuum/compaction passes over the
	// operation log.
	OperationLogCompactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "extraction_pipeline_operation_log_compactions_total",
		Help: "Total number of operation-log compaction passes",
	})

	// PipelineRunsTotal counts whole-pipeline invocations by final status.
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_pipeline_runs_total",
			Help: "Total number of pipeline runs by final status",
		},
		[]string{"pipeline", "status"},
	)
)

var registerOnce sync.Once

func safeRegister(collector prometheus.Collector) {
	defer func() {
		recover() // duplicate registration is a no-op, not a fatal error
	}()
	prometheus.MustRegister(collector)
}

// Server exposes /metrics and /health on a dedicated listener, independent
// of any port the pipeline's own work might use (spec's ambient-stack
// observability section).
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// NewServer builds a metrics server bound to addr. The collectors above are
// already registered with the default registry by promauto when the package
// loads; the safeRegister pass here runs once per process and its duplicate
// registrations are swallowed.
func NewServer(addr string, logger *logrus.Logger) *Server {
	registerOnce.Do(func() {
		safeRegister(TaskDuration)
		safeRegister(TaskOutcomeTotal)
		safeRegister(RetryAttemptsTotal)
		safeRegister(RecordsExtractedTotal)
		safeRegister(BytesTransferredTotal)
		safeRegister(FilesProducedTotal)
		safeRegister(OperationLogRowsTotal)
		safeRegister(OperationLogCompactionsTotal)
		safeRegister(PipelineRunsTotal)
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server error")
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping metrics server")
	return s.server.Close()
}

// RecordTaskOutcome is the single call site each task slot uses to report
// its duration and terminal outcome.
func RecordTaskOutcome(pipeline, taskSlot, outcome string, duration time.Duration) {
	TaskDuration.WithLabelValues(pipeline, taskSlot).Observe(duration.Seconds())
	TaskOutcomeTotal.WithLabelValues(pipeline, taskSlot, outcome).Inc()
}

// RecordRetryAttempt is the hook the retry package calls on every failed
// attempt, including a final one that is not retried, independent of the
// eventual outcome.
func RecordRetryAttempt(taskSlot string) {
	RetryAttemptsTotal.WithLabelValues(taskSlot).Inc()
}
