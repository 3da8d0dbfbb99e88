package pipeline

import (
	"sync"
	"time"
)

// Stabilizer suppresses frame-to-frame detection flicker. Each frame's raw
// detections are matched against the buffered window by class identity and
// bounded center proximity; only detections seen in enough consecutive recent
// frames are surfaced, with box and confidence smoothed toward their history.
//
// This is deliberately not a multi-object tracker: there is no identity
// persistence and no velocity model. An object moving farther than the
// position tolerance between frames is treated as a new detection. That is
// the documented trade-off, not a bug.
type Stabilizer struct {
	buffer    *DetectionBuffer
	smoothing float64 // weight of the historical value
	tolerance float64 // max center distance in pixels
	minStable int

	tracking bool
	mu       sync.Mutex
}

// NewStabilizer creates a stabilizer with a window of bufferSize frames.
// Tunables are assumed validated by config.Config.Validate.
func NewStabilizer(bufferSize int, smoothing, tolerance float64, minStable int, tracking bool) *Stabilizer {
	return &Stabilizer{
		buffer:    NewDetectionBuffer(bufferSize),
		smoothing: smoothing,
		tolerance: tolerance,
		minStable: minStable,
		tracking:  tracking,
	}
}

// Stabilize ingests the current frame's raw detections and returns the
// detections judged stable. The buffer is always updated, even when the
// detection list is empty or tracking is disabled, so toggling tracking
// mid-run is transparent.
func (s *Stabilizer) Stabilize(frameSeq uint64, ts time.Time, current []Detection) []StabilizedDetection {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer.Push(FrameSnapshot{Index: frameSeq, Timestamp: ts, Detections: current})

	if !s.tracking {
		return passthrough(current)
	}

	history := s.buffer.History()
	stable := make([]StabilizedDetection, 0, len(current))

	for _, d := range current {
		// Collect the contiguous run of matches ending at the most recent
		// snapshot, at most one per snapshot. The run breaks at the first
		// snapshot with no qualifying match: a single missed frame resets
		// stability, there is no bridging across gaps.
		matches := make([]Detection, 0, len(history))
		for i := len(history) - 1; i >= 0; i-- {
			match, ok := closestMatch(d, history[i].Detections, s.tolerance)
			if !ok {
				break
			}
			matches = append(matches, match)
		}

		count := 1 + len(matches)
		if count < s.minStable {
			continue
		}

		// Smooth sequentially oldest to newest, weighting history over the
		// current value.
		smoothed := d
		f := float32(s.smoothing)
		for i := len(matches) - 1; i >= 0; i-- {
			m := matches[i]
			smoothed.Confidence = f*m.Confidence + (1-f)*smoothed.Confidence
			smoothed.Box = Box{
				X1: f*m.Box.X1 + (1-f)*smoothed.Box.X1,
				Y1: f*m.Box.Y1 + (1-f)*smoothed.Box.Y1,
				X2: f*m.Box.X2 + (1-f)*smoothed.Box.X2,
				Y2: f*m.Box.Y2 + (1-f)*smoothed.Box.Y2,
			}
		}

		stable = append(stable, StabilizedDetection{Detection: smoothed, StabilityCount: count})
	}

	return stable
}

// closestMatch finds the qualifying candidate nearest to d among candidates:
// same class, center distance within tolerance. Ties between qualifying
// candidates are broken by smallest distance.
func closestMatch(d Detection, candidates []Detection, tolerance float64) (Detection, bool) {
	var best Detection
	var bestDist float64
	found := false
	for _, p := range candidates {
		if p.ClassID != d.ClassID {
			continue
		}
		dist := d.Box.CenterDistance(p.Box)
		if dist > tolerance {
			continue
		}
		if !found || dist < bestDist {
			best = p
			bestDist = dist
			found = true
		}
	}
	return best, found
}

func passthrough(current []Detection) []StabilizedDetection {
	out := make([]StabilizedDetection, 0, len(current))
	for _, d := range current {
		out = append(out, StabilizedDetection{Detection: d, StabilityCount: 1})
	}
	return out
}

// SetTracking toggles stabilization. When disabled the stabilizer becomes a
// pass-through while still maintaining its buffer.
func (s *Stabilizer) SetTracking(enabled bool) {
	s.mu.Lock()
	s.tracking = enabled
	s.mu.Unlock()
}

// Tracking reports whether stabilization is active.
func (s *Stabilizer) Tracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking
}

// Reset clears the temporal window. Safe to call from a control goroutine;
// it takes effect atomically before the next frame's push.
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	s.buffer.Reset()
	s.mu.Unlock()
}

// WindowLen returns the number of frames currently buffered.
func (s *Stabilizer) WindowLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Len()
}
