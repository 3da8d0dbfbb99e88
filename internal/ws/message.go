package ws

import "time"

// DetectionMessage is one frame's stabilized detections, pushed to every
// connected client.
type DetectionMessage struct {
	Type        string         `json:"type"` // "detection"
	FrameSeq    uint64         `json:"frame_seq"`
	Timestamp   time.Time      `json:"timestamp"`
	FrameWidth  int            `json:"frame_width"`
	FrameHeight int            `json:"frame_height"`
	Objects     []ObjectUpdate `json:"objects"`
}

// ObjectUpdate is a single stabilized detection in client coordinates.
type ObjectUpdate struct {
	Class          string    `json:"class"`
	ClassID        int       `json:"class_id"`
	Confidence     float32   `json:"confidence"`
	BBox           []float32 `json:"bbox"` // [x1, y1, x2, y2] in pixels
	StabilityCount int       `json:"stability_count"`
}

// StatusMessage reflects live pipeline state. The metrics fields drive the
// "metrics disconnected" indicator in clients.
type StatusMessage struct {
	Type             string    `json:"type"` // "status"
	Timestamp        time.Time `json:"timestamp"`
	Paused           bool      `json:"paused"`
	TrackingEnabled  bool      `json:"tracking_enabled"`
	MetricsEnabled   bool      `json:"metrics_enabled"`
	MetricsConnected bool      `json:"metrics_connected"`
	FPS              float64   `json:"fps"`
	PointsSent       uint64    `json:"points_sent"`
	MetricsErrors    uint64    `json:"metrics_errors"`
}

// NewDetectionMessage creates an empty detection message for one frame.
func NewDetectionMessage(frameSeq uint64, ts time.Time, width, height int) *DetectionMessage {
	return &DetectionMessage{
		Type:        "detection",
		FrameSeq:    frameSeq,
		Timestamp:   ts,
		FrameWidth:  width,
		FrameHeight: height,
		Objects:     make([]ObjectUpdate, 0),
	}
}

// AddObject appends a stabilized detection to the message.
func (m *DetectionMessage) AddObject(class string, classID int, confidence float32, bbox []float32, stabilityCount int) {
	m.Objects = append(m.Objects, ObjectUpdate{
		Class:          class,
		ClassID:        classID,
		Confidence:     confidence,
		BBox:           bbox,
		StabilityCount: stabilityCount,
	})
}
