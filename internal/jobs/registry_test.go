package jobs

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelvision/kestrel/internal/observability"
	"github.com/kestrelvision/kestrel/model"
)

func newTestRegistry(t *testing.T) (*Registry, *MemoryJobStore) {
	t.Helper()
	store := NewMemoryJobStore()
	return NewRegistry(store, zap.NewNop(), observability.NewTestMetrics()), store
}

// --- Register / Get / Stop ---

func TestRegistry_registerAndGet(t *testing.T) {
	r, _ := newTestRegistry(t)

	h, err := r.Register("job-1", model.JobKindRTSP)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := r.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != h {
		t.Error("Get() returned a different handle")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_registerDuplicate(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register("job-1", model.JobKindRTSP)

	_, err := r.Register("job-1", model.JobKindRTSP)
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrConflict {
		t.Errorf("error = %v, want CONFLICT", err)
	}
}

func TestRegistry_getInactiveJob(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Get("absent")
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrJobNotActive {
		t.Errorf("error = %v, want JOB_NOT_ACTIVE", err)
	}
}

func TestRegistry_stopRaisesFlag(t *testing.T) {
	r, _ := newTestRegistry(t)
	h, _ := r.Register("job-1", model.JobKindWebcam)

	if h.StopRequested() {
		t.Fatal("fresh handle has stop raised")
	}
	if err := r.Stop("job-1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !h.StopRequested() {
		t.Error("stop flag not raised")
	}
}

// --- Handle state ---

func TestHandle_latestFrameAndResult(t *testing.T) {
	h := newHandle("job-1", model.JobKindVideo)

	if _, ok := h.LatestFrame(); ok {
		t.Error("fresh handle reports a frame")
	}

	frame := model.Frame{Seq: 7, Data: []byte("jpeg"), CapturedAt: time.Now().UTC()}
	result := model.Result{TopClass: "person", TopConfidence: 0.92}
	h.setLatest(frame, &result)

	gotFrame, ok := h.LatestFrame()
	if !ok || gotFrame.Seq != 7 {
		t.Errorf("LatestFrame() = %+v, %v", gotFrame, ok)
	}
	gotResult, ok := h.LatestResult()
	if !ok || gotResult.TopClass != "person" {
		t.Errorf("LatestResult() = %+v, %v", gotResult, ok)
	}
}

func TestHandle_captureRequestsAccumulate(t *testing.T) {
	h := newHandle("job-1", model.JobKindWebcam)

	h.RequestCapture()
	h.RequestCapture()

	if !h.takeCaptureRequest() || !h.takeCaptureRequest() {
		t.Error("two requests should yield two takes")
	}
	if h.takeCaptureRequest() {
		t.Error("third take should find no pending request")
	}
}

func TestHandle_touchClearsInactive(t *testing.T) {
	h := newHandle("job-1", model.JobKindWebcam)

	if !h.markInactive() {
		t.Fatal("first markInactive should succeed")
	}
	if h.markInactive() {
		t.Error("second markInactive should be a no-op")
	}

	h.Touch()
	if h.Inactive() {
		t.Error("Touch() should clear the inactivity marker")
	}
}

// --- Sweep ---

func TestRegistry_sweepEvictsDoneHandles(t *testing.T) {
	r, _ := newTestRegistry(t)
	done, _ := r.Register("job-done", model.JobKindVideo)
	r.Register("job-live", model.JobKindVideo)
	done.markDone()

	r.Sweep(context.Background(), time.Hour)

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after sweep", r.Len())
	}
	if _, err := r.Get("job-done"); err == nil {
		t.Error("done handle survived the sweep")
	}
	if _, err := r.Get("job-live"); err != nil {
		t.Error("live handle evicted by the sweep")
	}
}

func TestRegistry_sweepMarksIdleSessionsInactive(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()
	store.CreateJob(ctx, newTestJob("job-idle"))

	h, _ := r.Register("job-idle", model.JobKindWebcam)
	h.mu.Lock()
	h.lastActivity = time.Now().UTC().Add(-10 * time.Minute)
	h.mu.Unlock()

	r.Sweep(ctx, 5*time.Minute)

	if !h.Inactive() {
		t.Error("idle handle not flagged inactive")
	}
	// Advisory only: the handle stays registered and the session keeps going.
	if _, err := r.Get("job-idle"); err != nil {
		t.Error("inactive handle was evicted; the marker is advisory")
	}

	job, _ := store.GetJob(ctx, "job-idle")
	if !job.Summary.Metadata.Inactive {
		t.Error("inactivity marker not persisted to the job record")
	}
}

func TestRegistry_captureRequestDefersInactivity(t *testing.T) {
	r, _ := newTestRegistry(t)
	h, _ := r.Register("job-manual", model.JobKindWebcam)
	h.mu.Lock()
	h.lastActivity = time.Now().UTC().Add(-10 * time.Minute)
	h.mu.Unlock()

	// An operator capturing from the session counts as activity.
	h.RequestCapture()

	r.Sweep(context.Background(), 5*time.Minute)

	if h.Inactive() {
		t.Error("handle with a fresh capture request flagged inactive")
	}
}

func TestRegistry_sweepIgnoresActiveSessions(t *testing.T) {
	r, _ := newTestRegistry(t)
	h, _ := r.Register("job-busy", model.JobKindWebcam)
	h.Touch()

	r.Sweep(context.Background(), 5*time.Minute)

	if h.Inactive() {
		t.Error("recently active handle flagged inactive")
	}
}
