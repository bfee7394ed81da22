package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelvision/kestrel/internal/executor"
	"github.com/kestrelvision/kestrel/internal/inference"
	"github.com/kestrelvision/kestrel/internal/observability"
	"github.com/kestrelvision/kestrel/model"
)

// StarterConfig tunes job launches.
type StarterConfig struct {
	Stride           int
	StatsUpdateEvery int

	// CaptureBaseURL is the capture sidecar fronting video files, RTSP
	// streams, and webcams.
	CaptureBaseURL string
	SourceTimeout  time.Duration
}

// Starter creates job records and spawns the session goroutine for streaming
// kinds. It implements executor.JobLauncher for the workflow engine's async
// node types.
type Starter struct {
	store    JobStore
	registry *Registry
	engine   inference.Engine
	cfg      StarterConfig
	logger   *zap.Logger
	metrics  *observability.Metrics

	// baseCtx bounds session goroutines to the daemon lifetime, not to the
	// caller's request.
	baseCtx  context.Context
	sessions sync.WaitGroup
}

// NewStarter creates a job starter. Sessions it spawns stop when baseCtx is
// cancelled.
func NewStarter(baseCtx context.Context, store JobStore, registry *Registry, engine inference.Engine,
	cfg StarterConfig, logger *zap.Logger, metrics *observability.Metrics) *Starter {
	return &Starter{
		store:    store,
		registry: registry,
		engine:   engine,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		baseCtx:  baseCtx,
	}
}

// Launch implements executor.JobLauncher.
func (st *Starter) Launch(ctx context.Context, spec executor.LaunchSpec) (string, error) {
	job := model.Job{
		ID:        uuid.NewString(),
		Kind:      spec.Kind,
		TaskKind:  spec.TaskKind,
		Status:    model.JobStatusPending,
		Summary:   model.Summary{Config: spec.Config},
		CreatedAt: time.Now().UTC(),
	}
	if spec.Kind.Streaming() {
		job.CaptureMode = spec.CaptureMode
		if job.CaptureMode == "" {
			job.CaptureMode = model.CaptureContinuous
		}
	}

	if err := st.store.CreateJob(ctx, job); err != nil {
		return "", err
	}
	st.metrics.JobsStartedTotal.WithLabelValues(string(job.Kind)).Inc()

	if !spec.Kind.Streaming() {
		// Training and export jobs are picked up by their own runner; the
		// record stays pending until that runner claims it.
		st.logger.Info("job queued",
			zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
		return job.ID, nil
	}

	source, err := st.sourceFor(job)
	if err != nil {
		if uerr := st.store.UpdateStatus(ctx, job.ID, model.JobStatusFailed, err.Error()); uerr != nil {
			st.logger.Error("failed to fail job after source error",
				zap.String("job_id", job.ID), zap.Error(uerr))
		}
		return "", err
	}

	handle, err := st.registry.Register(job.ID, job.Kind)
	if err != nil {
		source.Close()
		return "", err
	}

	session := NewSession(job, handle, source, st.engine, st.store, SessionConfig{
		Stride:           strideFor(job, st.cfg.Stride),
		StatsUpdateEvery: st.cfg.StatsUpdateEvery,
	}, st.logger, st.metrics)

	st.sessions.Add(1)
	go func() {
		defer st.sessions.Done()
		session.Run(st.baseCtx)
	}()

	st.logger.Info("streaming job started",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("capture_mode", string(job.CaptureMode)))
	return job.ID, nil
}

// StopJob requests a stop on an active streaming job.
func (st *Starter) StopJob(jobID string) error {
	return st.registry.Stop(jobID)
}

// Drain waits for all session goroutines to finish. Called on shutdown after
// cancelling baseCtx.
func (st *Starter) Drain() {
	st.sessions.Wait()
}

// sourceFor builds the frame source for a streaming job from its config.
func (st *Starter) sourceFor(job model.Job) (FrameSource, error) {
	cfg := job.Summary.Config
	switch job.Kind {
	case model.JobKindBatch:
		dir, _ := cfg["input_dir"].(string)
		if dir == "" {
			return nil, model.NewBadRequestError(fmt.Sprintf("batch job %q has no input_dir", job.ID))
		}
		return NewDirectorySource(dir)
	case model.JobKindVideo, model.JobKindRTSP, model.JobKindWebcam:
		source, _ := cfg["source"].(string)
		if source == "" {
			source, _ = cfg["video_path"].(string)
		}
		if source == "" {
			return nil, model.NewBadRequestError(fmt.Sprintf("%s job %q has no source", job.Kind, job.ID))
		}
		return NewHTTPFrameSource(st.cfg.CaptureBaseURL, source, st.cfg.SourceTimeout), nil
	}
	return nil, model.NewBadRequestError(fmt.Sprintf("kind %q is not a streaming kind", job.Kind))
}

// strideFor lets a job's config override the default frame stride.
func strideFor(job model.Job, fallback int) int {
	if v, ok := job.Summary.Config["stride"]; ok {
		switch n := v.(type) {
		case int:
			if n > 0 {
				return n
			}
		case float64:
			if n > 0 {
				return int(n)
			}
		}
	}
	return fallback
}
