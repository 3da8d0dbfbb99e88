package pipeline

import (
	"math"
	"time"
)

// Box is an axis-aligned bounding box in pixel coordinates.
// X1 < X2 and Y1 < Y2 for every box produced by the detector.
type Box struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// Center returns the box center point.
func (b Box) Center() (float64, float64) {
	return (float64(b.X1) + float64(b.X2)) / 2, (float64(b.Y1) + float64(b.Y2)) / 2
}

// CenterDistance returns the Euclidean distance between the centers of two
// boxes. This is the distance rule the stabilizer matches on.
func (b Box) CenterDistance(other Box) float64 {
	ax, ay := b.Center()
	bx, by := other.Center()
	return math.Hypot(ax-bx, ay-by)
}

// Detection is one recognized object instance in one frame. Immutable once
// created; the stabilizer copies it before smoothing.
type Detection struct {
	ClassID    int     `json:"class_id"`
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Box     `json:"box"`
}

// StabilizedDetection is a detection whose box and confidence have been
// smoothed across the temporal window. StabilityCount is the number of
// recent frames (including the current one) that contributed a match.
type StabilizedDetection struct {
	Detection
	StabilityCount int `json:"stability_count"`
}

// FrameSnapshot is the ordered set of detections produced for one frame,
// tagged with its monotonically increasing frame index. Never mutated after
// creation.
type FrameSnapshot struct {
	Index      uint64
	Timestamp  time.Time
	Detections []Detection
}

// FrameData is a captured video frame handed to the detector.
type FrameData struct {
	Data      []byte    // JPEG frame data
	Seq       uint64    // Frame sequence number
	Timestamp time.Time // Capture timestamp
	Width     int
	Height    int
}

// StabilizedResult is published on the event bus once per processed frame.
// It carries everything downstream consumers need: the raw detector output,
// the stabilized output, and the frame timing.
type StabilizedResult struct {
	FrameSeq        uint64                `json:"frame_seq"`
	Timestamp       time.Time             `json:"timestamp"`
	Raw             []Detection           `json:"raw"`
	Stabilized      []StabilizedDetection `json:"stabilized"`
	DetectionTimeMs float64               `json:"detection_time_ms"`
	FrameData       []byte                `json:"-"` // JPEG of the source frame (optional)
	Width           int                   `json:"width"`
	Height          int                   `json:"height"`
}
