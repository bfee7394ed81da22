package model

import "time"

// TaskKind identifies the model task a job or node runs.
type TaskKind string

// Task kinds.
const (
	TaskDetection      TaskKind = "detection"
	TaskClassification TaskKind = "classification"
	TaskSegmentation   TaskKind = "segmentation"
)

// Frame is a single raw captured image from a streaming source.
type Frame struct {
	Seq        int64     `json:"seq"`
	Data       []byte    `json:"-"`
	CapturedAt time.Time `json:"captured_at"`
}

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Mask is a per-instance segmentation mask summary. The core never inspects
// mask geometry; it only counts masks per class.
type Mask struct {
	Class      string `json:"class"`
	PixelCount int64  `json:"pixel_count,omitempty"`
}

// Result is the structured output of one inference call. The orchestration
// core counts and aggregates its contents but never interprets the numbers.
type Result struct {
	Boxes           []Box     `json:"boxes,omitempty"`
	Scores          []float64 `json:"scores,omitempty"`
	Classes         []int     `json:"classes,omitempty"`
	ClassNames      []string  `json:"class_names,omitempty"`
	Masks           []Mask    `json:"masks,omitempty"`
	TopClass        string    `json:"top_class,omitempty"`
	TopConfidence   float64   `json:"top_confidence,omitempty"`
	InferenceTimeMS float64   `json:"inference_time_ms,omitempty"`
}
