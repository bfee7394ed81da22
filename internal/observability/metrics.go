package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Histogram bucket definitions.
var (
	stepDurationBuckets  = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300}
	jobDurationBuckets   = []float64{0.1, 1, 5, 15, 60, 300, 900, 3600, 14400}
	inferenceTimeBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Metrics holds all Prometheus metric instruments for the orchestration core.
type Metrics struct {
	// Execution metrics
	ExecutionsStartedTotal   *prometheus.CounterVec
	ExecutionsCompletedTotal *prometheus.CounterVec
	ExecutionsRunning        prometheus.Gauge
	ExecutionDuration        prometheus.Histogram

	// Step metrics
	StepsTotal   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec

	// Job metrics
	JobsStartedTotal   *prometheus.CounterVec
	JobsCompletedTotal *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	JobWaitPollsTotal  prometheus.Counter

	// Streaming session metrics
	FramesProcessedTotal   *prometheus.CounterVec
	FramesCapturedTotal    *prometheus.CounterVec
	FrameErrorsTotal       *prometheus.CounterVec
	InferenceTime          prometheus.Histogram
	ActiveHandles          prometheus.Gauge
	HandleSweepEvictions   prometheus.Counter
	SessionsMarkedInactive prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// Executions
		ExecutionsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_executions_started_total",
			Help: "Total number of workflow executions started.",
		}, []string{"graph_id"}),
		ExecutionsCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_executions_completed_total",
			Help: "Total number of workflow executions reaching a terminal status.",
		}, []string{"graph_id", "status"}),
		ExecutionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kestrel_executions_running",
			Help: "Number of workflow executions currently running.",
		}),
		ExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_execution_duration_seconds",
			Help:    "Wall-clock duration of workflow executions.",
			Buckets: jobDurationBuckets,
		}),

		// Steps
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_steps_total",
			Help: "Total number of step executions by node type and status.",
		}, []string{"node_type", "status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_step_duration_seconds",
			Help:    "Step execution duration in seconds.",
			Buckets: stepDurationBuckets,
		}, []string{"node_type"}),

		// Jobs
		JobsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_jobs_started_total",
			Help: "Total number of jobs started.",
		}, []string{"kind"}),
		JobsCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal status.",
		}, []string{"kind", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_job_duration_seconds",
			Help:    "Job duration from creation to completion in seconds.",
			Buckets: jobDurationBuckets,
		}, []string{"kind"}),
		JobWaitPollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_job_wait_polls_total",
			Help: "Total number of status polls while a worker waits on an async job.",
		}),

		// Streaming sessions
		FramesProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_frames_processed_total",
			Help: "Total number of frames pulled from streaming sources.",
		}, []string{"kind"}),
		FramesCapturedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_frames_captured_total",
			Help: "Total number of frames persisted as durable results.",
		}, []string{"kind", "mode"}),
		FrameErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_frame_errors_total",
			Help: "Total number of frames that failed to process and were skipped.",
		}, []string{"kind"}),
		InferenceTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_inference_time_seconds",
			Help:    "Inference engine call duration in seconds.",
			Buckets: inferenceTimeBuckets,
		}),
		ActiveHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kestrel_active_job_handles",
			Help: "Number of live job handles in the concurrency registry.",
		}),
		HandleSweepEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_handle_sweep_evictions_total",
			Help: "Total number of stale job handles evicted by the sweeper.",
		}),
		SessionsMarkedInactive: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_sessions_marked_inactive_total",
			Help: "Total number of manual sessions flagged inactive.",
		}),
	}

	reg.MustRegister(
		m.ExecutionsStartedTotal,
		m.ExecutionsCompletedTotal,
		m.ExecutionsRunning,
		m.ExecutionDuration,
		m.StepsTotal,
		m.StepDuration,
		m.JobsStartedTotal,
		m.JobsCompletedTotal,
		m.JobDuration,
		m.JobWaitPollsTotal,
		m.FramesProcessedTotal,
		m.FramesCapturedTotal,
		m.FrameErrorsTotal,
		m.InferenceTime,
		m.ActiveHandles,
		m.HandleSweepEvictions,
		m.SessionsMarkedInactive,
	)

	return m
}

// NewTestMetrics returns metrics registered against a throwaway registry,
// for use in tests.
func NewTestMetrics() *Metrics {
	return InitMetrics(prometheus.NewRegistry())
}
