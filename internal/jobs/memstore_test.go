package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kestrelvision/kestrel/model"
)

func newTestJob(id string) model.Job {
	return model.Job{
		ID:        id,
		Kind:      model.JobKindVideo,
		TaskKind:  model.TaskDetection,
		Status:    model.JobStatusPending,
		Summary:   model.Summary{Config: map[string]any{"model_ref": "yolo-v8"}},
		CreatedAt: time.Now().UTC(),
	}
}

// --- CreateJob / GetJob ---

func TestMemoryJobStore_createAndGet(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	if err := store.CreateJob(ctx, newTestJob("job-1")); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	job, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Kind != model.JobKindVideo {
		t.Errorf("kind = %q, want video", job.Kind)
	}
	if job.Summary.Config["model_ref"] != "yolo-v8" {
		t.Errorf("config model_ref = %v", job.Summary.Config["model_ref"])
	}
}

func TestMemoryJobStore_createDuplicate(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	store.CreateJob(ctx, newTestJob("job-1"))
	err := store.CreateJob(ctx, newTestJob("job-1"))
	if err == nil {
		t.Fatal("duplicate CreateJob() should fail")
	}
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrConflict {
		t.Errorf("error = %v, want CONFLICT", err)
	}
}

func TestMemoryJobStore_getMissing(t *testing.T) {
	store := NewMemoryJobStore()

	_, err := store.GetJob(context.Background(), "absent")
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrNotFound {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

// --- UpdateStatus ---

func TestMemoryJobStore_lifecycleTransitions(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	store.CreateJob(ctx, newTestJob("job-1"))

	if err := store.UpdateStatus(ctx, "job-1", model.JobStatusRunning, ""); err != nil {
		t.Fatalf("pending->running error = %v", err)
	}
	job, _ := store.GetJob(ctx, "job-1")
	if job.StartedAt == nil {
		t.Error("StartedAt not set on running")
	}

	if err := store.UpdateStatus(ctx, "job-1", model.JobStatusCompleted, ""); err != nil {
		t.Fatalf("running->completed error = %v", err)
	}
	job, _ = store.GetJob(ctx, "job-1")
	if job.CompletedAt == nil {
		t.Error("CompletedAt not set on completed")
	}
}

func TestMemoryJobStore_terminalIsImmutable(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	store.CreateJob(ctx, newTestJob("job-1"))
	store.UpdateStatus(ctx, "job-1", model.JobStatusRunning, "")
	store.UpdateStatus(ctx, "job-1", model.JobStatusFailed, "engine crashed")

	err := store.UpdateStatus(ctx, "job-1", model.JobStatusRunning, "")
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrInvalidTransition {
		t.Errorf("error = %v, want INVALID_TRANSITION", err)
	}

	job, _ := store.GetJob(ctx, "job-1")
	if job.Status != model.JobStatusFailed || job.Error != "engine crashed" {
		t.Errorf("job = %q/%q, terminal state must survive", job.Status, job.Error)
	}
}

func TestMemoryJobStore_terminalSummaryIsFrozen(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	store.CreateJob(ctx, newTestJob("job-1"))
	store.UpdateStatus(ctx, "job-1", model.JobStatusRunning, "")
	store.ReplaceStats(ctx, "job-1", model.Stats{ResultCount: 5})
	store.UpdateStatus(ctx, "job-1", model.JobStatusCompleted, "")

	err := store.ReplaceStats(ctx, "job-1", model.Stats{ResultCount: 99})
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrInvalidTransition {
		t.Errorf("ReplaceStats error = %v, want INVALID_TRANSITION", err)
	}

	inactive := true
	err = store.MergeMetadata(ctx, "job-1", model.MetadataPatch{Inactive: &inactive})
	env, ok = err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrInvalidTransition {
		t.Errorf("MergeMetadata error = %v, want INVALID_TRANSITION", err)
	}

	job, _ := store.GetJob(ctx, "job-1")
	if job.Summary.Stats.ResultCount != 5 {
		t.Errorf("stats result_count = %d, terminal stats must survive", job.Summary.Stats.ResultCount)
	}
	if job.Summary.Metadata.Inactive {
		t.Error("metadata mutated after terminal status")
	}
}

func TestMemoryJobStore_illegalJump(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	store.CreateJob(ctx, newTestJob("job-1"))

	// pending cannot reach completed without running first.
	err := store.UpdateStatus(ctx, "job-1", model.JobStatusCompleted, "")
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrInvalidTransition {
		t.Errorf("error = %v, want INVALID_TRANSITION", err)
	}
}

// --- Summary parts ---

func TestMemoryJobStore_replaceStatsAsUnit(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	store.CreateJob(ctx, newTestJob("job-1"))

	store.ReplaceStats(ctx, "job-1", model.Stats{
		Detection:   &model.DetectionStats{TotalDetections: 5, PerClass: map[string]int64{"person": 5}},
		ResultCount: 2,
	})
	store.ReplaceStats(ctx, "job-1", model.Stats{
		Detection:   &model.DetectionStats{TotalDetections: 9, PerClass: map[string]int64{"car": 9}},
		ResultCount: 3,
	})

	job, _ := store.GetJob(ctx, "job-1")
	if job.Summary.Stats.ResultCount != 3 {
		t.Errorf("result count = %d, want 3", job.Summary.Stats.ResultCount)
	}
	// Whole-unit replacement: nothing from the first write survives.
	if _, ok := job.Summary.Stats.Detection.PerClass["person"]; ok {
		t.Error("stale per-class entry survived a stats replacement")
	}
}

func TestMemoryJobStore_mergeMetadataFieldByField(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	store.CreateJob(ctx, newTestJob("job-1"))

	src := "rtsp://cam-7"
	frames := int64(40)
	store.MergeMetadata(ctx, "job-1", model.MetadataPatch{Source: &src, FramesProcessed: &frames})

	captured := int64(4)
	store.MergeMetadata(ctx, "job-1", model.MetadataPatch{FramesCaptured: &captured})

	job, _ := store.GetJob(ctx, "job-1")
	meta := job.Summary.Metadata
	if meta.Source != "rtsp://cam-7" {
		t.Errorf("source = %q, earlier fields must survive later patches", meta.Source)
	}
	if meta.FramesProcessed != 40 || meta.FramesCaptured != 4 {
		t.Errorf("frames = %d/%d, want 40/4", meta.FramesProcessed, meta.FramesCaptured)
	}
}

func TestMemoryJobStore_configIsWriteOnce(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	store.CreateJob(ctx, newTestJob("job-1"))

	// Exercise every mutating operation; none may touch config.
	store.UpdateStatus(ctx, "job-1", model.JobStatusRunning, "")
	store.ReplaceStats(ctx, "job-1", model.Stats{ResultCount: 1})
	inactive := true
	store.MergeMetadata(ctx, "job-1", model.MetadataPatch{Inactive: &inactive})

	job, _ := store.GetJob(ctx, "job-1")
	if job.Summary.Config["model_ref"] != "yolo-v8" {
		t.Errorf("config changed after creation: %v", job.Summary.Config)
	}
}

// --- Results ---

func TestMemoryJobStore_appendAndListResults(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	store.CreateJob(ctx, newTestJob("job-1"))

	for _, seq := range []int64{3, 1, 2} {
		err := store.AppendResult(ctx, model.JobResult{
			ID: fmt.Sprintf("result-%d", seq), JobID: "job-1", Seq: seq, CapturedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("AppendResult(%d) error = %v", seq, err)
		}
	}

	results, err := store.ListResults(ctx, "job-1")
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len = %d, want 3", len(results))
	}
	for i, want := range []int64{1, 2, 3} {
		if results[i].Seq != want {
			t.Errorf("results[%d].Seq = %d, want %d", i, results[i].Seq, want)
		}
	}
}

func TestMemoryJobStore_appendResultUnknownJob(t *testing.T) {
	store := NewMemoryJobStore()

	err := store.AppendResult(context.Background(), model.JobResult{ID: "r1", JobID: "absent"})
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrNotFound {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

// --- ListJobs ---

func TestMemoryJobStore_listJobsFilters(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	video := newTestJob("job-1")
	store.CreateJob(ctx, video)

	batch := newTestJob("job-2")
	batch.Kind = model.JobKindBatch
	batch.CreatedAt = video.CreatedAt.Add(time.Second)
	store.CreateJob(ctx, batch)

	all, _ := store.ListJobs(ctx, JobFilters{})
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	if all[0].ID != "job-2" {
		t.Errorf("first = %q, want newest first", all[0].ID)
	}

	videos, _ := store.ListJobs(ctx, JobFilters{Kind: model.JobKindVideo})
	if len(videos) != 1 || videos[0].ID != "job-1" {
		t.Errorf("kind filter returned %v", videos)
	}

	limited, _ := store.ListJobs(ctx, JobFilters{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit filter returned %d jobs", len(limited))
	}
}
