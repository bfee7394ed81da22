package model

import "time"

// JobKind tags what a job runs.
type JobKind string

// Job kinds.
const (
	JobKindSingle   JobKind = "single"
	JobKindBatch    JobKind = "batch"
	JobKindVideo    JobKind = "video"
	JobKindRTSP     JobKind = "rtsp"
	JobKindWebcam   JobKind = "webcam"
	JobKindTraining JobKind = "training"
	JobKindExport   JobKind = "export"
)

// Streaming reports whether jobs of this kind run a frame loop on a
// dedicated goroutine and hold an active handle in the registry.
func (k JobKind) Streaming() bool {
	switch k {
	case JobKindBatch, JobKindVideo, JobKindRTSP, JobKindWebcam:
		return true
	}
	return false
}

// Job status constants. Identical shape to execution statuses, owned
// independently per job.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// CaptureMode selects how a streaming job persists frames.
type CaptureMode string

// Capture modes. In continuous mode every sampled frame is persisted as a
// durable result; in manual mode frames are held in memory for live preview
// and persisted only by an explicit capture action.
const (
	CaptureContinuous CaptureMode = "continuous"
	CaptureManual     CaptureMode = "manual"
)

// Job is a long-running or short-lived inference/training/export unit.
// Once terminal it is owned by no goroutine and read-only.
type Job struct {
	ID          string      `json:"id"`
	Kind        JobKind     `json:"kind"`
	TaskKind    TaskKind    `json:"task_kind"`
	CaptureMode CaptureMode `json:"capture_mode,omitempty"`
	Status      string      `json:"status"`
	Summary     Summary     `json:"summary"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Summary is the persisted three-part job summary. Config is written once at
// creation; Stats is always replaced as a whole unit; Metadata is merged
// field by field.
type Summary struct {
	Config   map[string]any `json:"config"`
	Stats    Stats          `json:"stats"`
	Metadata Metadata       `json:"metadata"`
}

// Stats holds task-kind-specific totals. Exactly one of the task sections is
// populated, matching the job's task kind. Updates replace the whole value so
// mutually dependent fields can never drift apart.
type Stats struct {
	Detection       *DetectionStats      `json:"detection,omitempty"`
	Classification  *ClassificationStats `json:"classification,omitempty"`
	Segmentation    *SegmentationStats   `json:"segmentation,omitempty"`
	ResultCount     int64                `json:"result_count"`
	DurationSeconds float64              `json:"duration_seconds,omitempty"`
}

// DetectionStats aggregates object-detection results.
type DetectionStats struct {
	TotalDetections int64            `json:"total_detections"`
	PerClass        map[string]int64 `json:"per_class"`
	MeanConfidence  float64          `json:"mean_confidence"`
}

// ClassificationStats aggregates classification results.
type ClassificationStats struct {
	PerClass          map[string]int64 `json:"per_class"`
	MeanTopConfidence float64          `json:"mean_top_confidence"`
}

// SegmentationStats aggregates segmentation results.
type SegmentationStats struct {
	TotalMasks   int64            `json:"total_masks"`
	PerClassMask map[string]int64 `json:"per_class_mask"`
}

// Metadata is session bookkeeping for a job. Fields are independent counters
// and markers, so updates are applied field by field via MetadataPatch rather
// than replacing the whole value.
type Metadata struct {
	Source          string     `json:"source,omitempty"`
	FramesProcessed int64      `json:"frames_processed"`
	FramesCaptured  int64      `json:"frames_captured"`
	LastActivityAt  *time.Time `json:"last_activity_at,omitempty"`
	Inactive        bool       `json:"inactive,omitempty"`
	TotalFrames     int64      `json:"total_frames,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	FPS             float64    `json:"fps,omitempty"`
}

// MetadataPatch is a partial metadata update. Nil fields are left untouched.
type MetadataPatch struct {
	Source          *string
	FramesProcessed *int64
	FramesCaptured  *int64
	LastActivityAt  *time.Time
	Inactive        *bool
	TotalFrames     *int64
	DurationSeconds *float64
	FPS             *float64
}

// Apply merges a patch into the metadata, field by field.
func (m *Metadata) Apply(p MetadataPatch) {
	if p.Source != nil {
		m.Source = *p.Source
	}
	if p.FramesProcessed != nil {
		m.FramesProcessed = *p.FramesProcessed
	}
	if p.FramesCaptured != nil {
		m.FramesCaptured = *p.FramesCaptured
	}
	if p.LastActivityAt != nil {
		m.LastActivityAt = p.LastActivityAt
	}
	if p.Inactive != nil {
		m.Inactive = *p.Inactive
	}
	if p.TotalFrames != nil {
		m.TotalFrames = *p.TotalFrames
	}
	if p.DurationSeconds != nil {
		m.DurationSeconds = *p.DurationSeconds
	}
	if p.FPS != nil {
		m.FPS = *p.FPS
	}
}

// JobResult is one durable per-frame result of a job. Finalize recomputes
// job stats from the full result set so the final numbers are exact even
// when incremental updates were throttled.
type JobResult struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	Seq        int64     `json:"seq"`
	Result     Result    `json:"result"`
	ImagePath  string    `json:"image_path,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}
