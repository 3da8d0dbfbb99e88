package metrics

import (
	"sync"
	"time"

	"vigil/internal/pipeline"
)

// Aggregator derives one MetricsSample per processed frame from the raw
// detections, the stabilized detections and the frame timing. It is cheap
// enough to run on the frame path; transmission is the dispatcher's job.
type Aggregator struct {
	window      int
	frameWidth  int
	frameHeight int

	frameTimes   []time.Time // ring of the last window frame timestamps
	sessionStart time.Time
	frames       uint64
	mu           sync.Mutex

	now func() time.Time
}

// NewAggregator creates an aggregator with an FPS moving average over the
// last window frame timestamps.
func NewAggregator(window, frameWidth, frameHeight int) *Aggregator {
	return &Aggregator{
		window:       window,
		frameWidth:   frameWidth,
		frameHeight:  frameHeight,
		frameTimes:   make([]time.Time, 0, window),
		sessionStart: time.Now(),
		now:          time.Now,
	}
}

// RecordFrame turns one frame's results into a sample.
// Confidence statistics are computed over the raw detections and are exactly
// zero for an empty frame, never NaN. Classes absent from the frame are
// absent from the class-count map.
func (a *Aggregator) RecordFrame(raw []pipeline.Detection, stabilized []pipeline.StabilizedDetection, detectionTimeMs float64) *MetricsSample {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.frames++
	a.frameTimes = append(a.frameTimes, now)
	if len(a.frameTimes) > a.window {
		copy(a.frameTimes, a.frameTimes[1:])
		a.frameTimes = a.frameTimes[:a.window]
	}

	sample := &MetricsSample{
		Timestamp:       now,
		FPS:             a.movingFPS(),
		DetectionTimeMs: detectionTimeMs,
		ObjectCount:     len(stabilized),
		ClassCounts:     make(map[string]int, len(raw)),
		SessionDuration: now.Sub(a.sessionStart).Seconds(),
		FramesProcessed: a.frames,
		FrameWidth:      a.frameWidth,
		FrameHeight:     a.frameHeight,
	}

	if len(raw) > 0 {
		sum := 0.0
		max := float64(raw[0].Confidence)
		min := max
		for _, d := range raw {
			c := float64(d.Confidence)
			sum += c
			if c > max {
				max = c
			}
			if c < min {
				min = c
			}
			sample.ClassCounts[d.Class]++
		}
		sample.ConfidenceAvg = sum / float64(len(raw))
		sample.ConfidenceMax = max
		sample.ConfidenceMin = min
	}

	return sample
}

// movingFPS computes frames per second over the buffered timestamps.
// A single slow frame shifts the average instead of zeroing it.
func (a *Aggregator) movingFPS() float64 {
	n := len(a.frameTimes)
	if n < 2 {
		return 0
	}
	elapsed := a.frameTimes[n-1].Sub(a.frameTimes[0]).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(n-1) / elapsed
}

// FPS returns the current moving-average frame rate.
func (a *Aggregator) FPS() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.movingFPS()
}

// FramesProcessed returns the number of frames recorded this session.
func (a *Aggregator) FramesProcessed() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

// Reset clears the FPS window and the frame counter. The session start time
// is kept; session duration spans resets.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.frameTimes = a.frameTimes[:0]
	a.frames = 0
	a.mu.Unlock()
}
