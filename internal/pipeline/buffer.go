package pipeline

// DetectionBuffer holds the last N frame snapshots in arrival order. It is a
// pure in-memory structure with a single writer; the Stabilizer serializes
// access, including asynchronous resets.
type DetectionBuffer struct {
	capacity int
	frames   []FrameSnapshot
}

// NewDetectionBuffer creates a buffer that retains up to capacity snapshots.
func NewDetectionBuffer(capacity int) *DetectionBuffer {
	return &DetectionBuffer{
		capacity: capacity,
		frames:   make([]FrameSnapshot, 0, capacity),
	}
}

// Push appends a snapshot, evicting the oldest when the buffer is full.
func (b *DetectionBuffer) Push(snapshot FrameSnapshot) {
	b.frames = append(b.frames, snapshot)
	if len(b.frames) > b.capacity {
		copy(b.frames, b.frames[1:])
		b.frames = b.frames[:b.capacity]
	}
}

// History returns the buffered snapshots excluding the most recent one,
// oldest first. The returned slice is a read-only view; callers must not
// hold it across the next Push.
func (b *DetectionBuffer) History() []FrameSnapshot {
	if len(b.frames) < 2 {
		return nil
	}
	return b.frames[:len(b.frames)-1]
}

// Len returns the number of buffered snapshots.
func (b *DetectionBuffer) Len() int {
	return len(b.frames)
}

// Reset discards all buffered snapshots. Used on explicit user reset and
// after a pause/resume gap so detections do not match across a discontinuity.
func (b *DetectionBuffer) Reset() {
	b.frames = b.frames[:0]
}
