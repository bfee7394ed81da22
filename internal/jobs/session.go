package jobs

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelvision/kestrel/internal/inference"
	"github.com/kestrelvision/kestrel/internal/observability"
	"github.com/kestrelvision/kestrel/model"
)

// FrameSource yields frames from a video file, RTSP stream, webcam, or image
// batch. Next blocks until a frame is available and returns io.EOF when the
// source is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (model.Frame, error)
	Close() error
}

// SessionConfig tunes a streaming session.
type SessionConfig struct {
	// Stride processes every Nth frame; frames in between are pulled and
	// discarded. Values below 1 are treated as 1.
	Stride int

	// StatsUpdateEvery throttles incremental stats writes to one per N
	// persisted results. Finalization recomputes exact totals regardless.
	StatsUpdateEvery int
}

// Session is the frame loop of one streaming job. It runs on a dedicated
// goroutine and is the only writer of the job's results while active.
type Session struct {
	job     model.Job
	handle  *Handle
	source  FrameSource
	engine  inference.Engine
	store   JobStore
	cfg     SessionConfig
	logger  *zap.Logger
	metrics *observability.Metrics

	modelRef string
	params   map[string]any
}

// NewSession wires up a session for a registered streaming job.
func NewSession(job model.Job, handle *Handle, source FrameSource, engine inference.Engine,
	store JobStore, cfg SessionConfig, logger *zap.Logger, metrics *observability.Metrics) *Session {

	if cfg.Stride < 1 {
		cfg.Stride = 1
	}
	if cfg.StatsUpdateEvery < 1 {
		cfg.StatsUpdateEvery = 10
	}

	modelRef, _ := job.Summary.Config["model_ref"].(string)
	params, _ := job.Summary.Config["params"].(map[string]any)

	return &Session{
		job:      job,
		handle:   handle,
		source:   source,
		engine:   engine,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		modelRef: modelRef,
		params:   params,
	}
}

// Run executes the frame loop until the source is exhausted, a stop is
// requested, or the context is cancelled. It always finalizes the job and
// marks the handle done before returning.
func (s *Session) Run(ctx context.Context) {
	log := observability.JobLogger(ctx, s.logger, s.job.ID, string(s.job.Kind)).With(
		zap.String("capture_mode", string(s.job.CaptureMode)),
	)
	defer s.handle.markDone()
	defer s.source.Close()

	if err := s.store.UpdateStatus(ctx, s.job.ID, model.JobStatusRunning, ""); err != nil {
		log.Error("failed to mark job running", zap.Error(err))
		return
	}
	started := time.Now().UTC()
	log.Info("streaming session started", zap.Int("stride", s.cfg.Stride))

	var framesProcessed, framesCaptured, resultCount int64
	var seq int64
	finalStatus := model.JobStatusCompleted
	var finalErr string

loop:
	for {
		// Stop and cancellation are observed at frame boundaries only.
		if s.handle.StopRequested() {
			log.Info("stop requested, ending session")
			break
		}
		if ctx.Err() != nil {
			finalStatus = model.JobStatusCancelled
			finalErr = "session cancelled"
			break
		}

		frame, err := s.source.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			break loop
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			finalStatus = model.JobStatusCancelled
			finalErr = "session cancelled"
			break loop
		case err != nil:
			finalStatus = model.JobStatusFailed
			finalErr = err.Error()
			log.Error("frame source failed", zap.Error(err))
			break loop
		}
		seq++
		s.metrics.FramesProcessedTotal.WithLabelValues(string(s.job.Kind)).Inc()

		if (seq-1)%int64(s.cfg.Stride) != 0 {
			continue
		}

		infStart := time.Now()
		result, err := s.engine.Detect(ctx, s.modelRef, frame, s.job.TaskKind, s.params)
		s.metrics.InferenceTime.Observe(time.Since(infStart).Seconds())
		if err != nil {
			// A bad frame never kills the session.
			s.metrics.FrameErrorsTotal.WithLabelValues(string(s.job.Kind)).Inc()
			log.Warn("inference failed on frame, skipping",
				zap.Int64("seq", frame.Seq), zap.Error(err))
			continue
		}
		framesProcessed++
		s.handle.setLatest(frame, &result)

		persist := s.job.CaptureMode == model.CaptureContinuous
		mode := string(model.CaptureContinuous)
		if s.job.CaptureMode == model.CaptureManual {
			persist = s.handle.takeCaptureRequest()
			mode = string(model.CaptureManual)
		} else {
			s.handle.Touch()
		}

		if !persist {
			continue
		}

		if err := s.store.AppendResult(ctx, model.JobResult{
			ID:         uuid.NewString(),
			JobID:      s.job.ID,
			Seq:        frame.Seq,
			Result:     result,
			CapturedAt: frame.CapturedAt,
		}); err != nil {
			log.Error("failed to persist result", zap.Int64("seq", frame.Seq), zap.Error(err))
			continue
		}
		framesCaptured++
		resultCount++
		s.metrics.FramesCapturedTotal.WithLabelValues(string(s.job.Kind), mode).Inc()

		if resultCount%int64(s.cfg.StatsUpdateEvery) == 0 {
			s.updateProgress(ctx, log, started, framesProcessed, framesCaptured)
		}
	}

	s.finalize(ctx, log, started, finalStatus, finalErr, framesProcessed, framesCaptured)
}

// updateProgress writes an incremental stats snapshot and a metadata patch.
// Throttled by StatsUpdateEvery; correctness comes from finalize.
func (s *Session) updateProgress(ctx context.Context, log *zap.Logger, started time.Time,
	framesProcessed, framesCaptured int64) {

	results, err := s.store.ListResults(ctx, s.job.ID)
	if err != nil {
		log.Warn("failed to list results for stats update", zap.Error(err))
		return
	}
	stats := Aggregate(s.job.TaskKind, results, time.Since(started).Seconds())
	if err := s.store.ReplaceStats(ctx, s.job.ID, stats); err != nil {
		log.Warn("failed to update stats", zap.Error(err))
	}

	now := time.Now().UTC()
	if err := s.store.MergeMetadata(ctx, s.job.ID, model.MetadataPatch{
		FramesProcessed: &framesProcessed,
		FramesCaptured:  &framesCaptured,
		LastActivityAt:  &now,
	}); err != nil {
		log.Warn("failed to update metadata", zap.Error(err))
	}
}

// finalize recomputes stats from the full durable result set, writes the
// final metadata, and moves the job to its terminal status. It never runs
// with the session's cancelled context so a shutdown still persists totals.
func (s *Session) finalize(ctx context.Context, log *zap.Logger, started time.Time,
	status, errMsg string, framesProcessed, framesCaptured int64) {

	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	duration := time.Since(started).Seconds()
	results, err := s.store.ListResults(finCtx, s.job.ID)
	if err != nil {
		log.Error("failed to list results for finalization", zap.Error(err))
	} else {
		stats := Aggregate(s.job.TaskKind, results, duration)
		if err := s.store.ReplaceStats(finCtx, s.job.ID, stats); err != nil {
			log.Error("failed to write final stats", zap.Error(err))
		}
	}

	now := time.Now().UTC()
	fps := 0.0
	if duration > 0 {
		fps = float64(framesProcessed) / duration
	}
	if err := s.store.MergeMetadata(finCtx, s.job.ID, model.MetadataPatch{
		FramesProcessed: &framesProcessed,
		FramesCaptured:  &framesCaptured,
		LastActivityAt:  &now,
		DurationSeconds: &duration,
		FPS:             &fps,
	}); err != nil {
		log.Error("failed to write final metadata", zap.Error(err))
	}

	if err := s.store.UpdateStatus(finCtx, s.job.ID, status, errMsg); err != nil {
		log.Error("failed to finalize job status", zap.Error(err))
	}

	s.metrics.JobsCompletedTotal.WithLabelValues(string(s.job.Kind), status).Inc()
	s.metrics.JobDuration.WithLabelValues(string(s.job.Kind)).Observe(duration)
	log.Info("streaming session finished",
		zap.String("status", status),
		zap.Int64("frames_processed", framesProcessed),
		zap.Int64("frames_captured", framesCaptured),
		zap.Float64("duration_seconds", duration))
}
