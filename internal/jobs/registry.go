package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelvision/kestrel/internal/observability"
	"github.com/kestrelvision/kestrel/model"
)

// Handle is the in-memory control surface for one active streaming job. The
// session goroutine writes the latest frame and result into it; other
// goroutines read previews, request stops, and request manual captures. All
// fields are guarded by the handle's own mutex.
type Handle struct {
	JobID string
	Kind  model.JobKind

	mu              sync.Mutex
	stop            bool
	done            bool
	captureRequests int
	latestFrame     *model.Frame
	latestResult    *model.Result
	lastActivity    time.Time
	inactive        bool
}

func newHandle(jobID string, kind model.JobKind) *Handle {
	return &Handle{JobID: jobID, Kind: kind, lastActivity: time.Now().UTC()}
}

// RequestStop raises the stop flag. The session goroutine observes it at the
// next frame boundary.
func (h *Handle) RequestStop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stop = true
}

// StopRequested reports whether a stop has been requested.
func (h *Handle) StopRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop
}

// markDone records that the session goroutine has exited. The handle stays
// in the registry until the sweeper evicts it.
func (h *Handle) markDone() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
}

// Done reports whether the session goroutine has exited.
func (h *Handle) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// setLatest publishes the newest frame and its result for live preview.
func (h *Handle) setLatest(frame model.Frame, result *model.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latestFrame = &frame
	h.latestResult = result
}

// LatestFrame returns the most recent frame, if any.
func (h *Handle) LatestFrame() (model.Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latestFrame == nil {
		return model.Frame{}, false
	}
	return *h.latestFrame, true
}

// LatestResult returns the most recent inference result, if any.
func (h *Handle) LatestResult() (model.Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latestResult == nil {
		return model.Result{}, false
	}
	return *h.latestResult, true
}

// RequestCapture asks a manual-mode session to persist its next processed
// frame. Requests accumulate so rapid clicks are not lost. A capture request
// is operator activity, so it also defers the inactivity marker.
func (h *Handle) RequestCapture() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.captureRequests++
	h.lastActivity = time.Now().UTC()
	h.inactive = false
}

// takeCaptureRequest consumes one pending capture request.
func (h *Handle) takeCaptureRequest() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.captureRequests == 0 {
		return false
	}
	h.captureRequests--
	return true
}

// Touch records activity, clearing the inactivity marker.
func (h *Handle) Touch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity = time.Now().UTC()
	h.inactive = false
}

// LastActivity returns the time of the last recorded activity.
func (h *Handle) LastActivity() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastActivity
}

// markInactive flags the handle, returning false if it already was.
func (h *Handle) markInactive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inactive {
		return false
	}
	h.inactive = true
	return true
}

// Inactive reports whether the sweeper has flagged this handle.
func (h *Handle) Inactive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inactive
}

// Registry tracks the handle of every active streaming job. Each streaming
// job owns exactly one handle and one session goroutine.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle

	store   JobStore
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRegistry creates an empty job registry.
func NewRegistry(store JobStore, logger *zap.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Register creates a handle for a streaming job. Returns CONFLICT if the job
// already has one.
func (r *Registry) Register(jobID string, kind model.JobKind) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[jobID]; exists {
		return nil, model.NewConflictError(fmt.Sprintf("job %q already has an active handle", jobID))
	}

	h := newHandle(jobID, kind)
	r.handles[jobID] = h
	r.metrics.ActiveHandles.Inc()
	return h, nil
}

// Get returns the handle for an active job. Returns JOB_NOT_ACTIVE if the
// job has no live handle.
func (r *Registry) Get(jobID string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handles[jobID]
	if !exists {
		return nil, model.NewJobNotActiveError(jobID)
	}
	return h, nil
}

// Stop raises the stop flag on an active job's handle.
func (r *Registry) Stop(jobID string) error {
	h, err := r.Get(jobID)
	if err != nil {
		return err
	}
	h.RequestStop()
	return nil
}

// Remove evicts a handle from the registry.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[jobID]; exists {
		delete(r.handles, jobID)
		r.metrics.ActiveHandles.Dec()
	}
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Sweep evicts handles whose session goroutine has exited and flags handles
// with no activity past the inactivity timeout. The inactivity marker is
// advisory: the session keeps running until something stops it.
func (r *Registry) Sweep(ctx context.Context, inactivityTimeout time.Duration) {
	r.mu.Lock()
	var stale []*Handle
	var idle []*Handle
	cutoff := time.Now().UTC().Add(-inactivityTimeout)
	for _, h := range r.handles {
		if h.Done() {
			stale = append(stale, h)
			continue
		}
		if inactivityTimeout > 0 && h.LastActivity().Before(cutoff) {
			idle = append(idle, h)
		}
	}
	for _, h := range stale {
		delete(r.handles, h.JobID)
		r.metrics.ActiveHandles.Dec()
	}
	r.mu.Unlock()

	for _, h := range stale {
		r.metrics.HandleSweepEvictions.Inc()
		r.logger.Debug("evicted stale job handle", zap.String("job_id", h.JobID))
	}

	for _, h := range idle {
		if !h.markInactive() {
			continue
		}
		r.metrics.SessionsMarkedInactive.Inc()
		inactive := true
		if err := r.store.MergeMetadata(ctx, h.JobID, model.MetadataPatch{Inactive: &inactive}); err != nil {
			r.logger.Warn("failed to persist inactivity marker",
				zap.String("job_id", h.JobID), zap.Error(err))
		}
		r.logger.Info("session marked inactive",
			zap.String("job_id", h.JobID),
			zap.Time("last_activity", h.LastActivity()))
	}
}

// RunSweeper runs Sweep on an interval until the context is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval, inactivityTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx, inactivityTimeout)
		}
	}
}
