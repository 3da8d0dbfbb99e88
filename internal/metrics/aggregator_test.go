package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/pipeline"
)

func det(classID int, class string, conf float32) pipeline.Detection {
	return pipeline.Detection{ClassID: classID, Class: class, Confidence: conf}
}

// fixedClock advances a fake time by a constant step per frame.
func fixedClock(a *Aggregator, start time.Time, step time.Duration) {
	t := start
	a.now = func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestAggregatorEmptyFrameYieldsZeroes(t *testing.T) {
	a := NewAggregator(100, 640, 480)

	sample := a.RecordFrame(nil, nil, 12.5)

	assert.Equal(t, 0.0, sample.ConfidenceAvg)
	assert.Equal(t, 0.0, sample.ConfidenceMax)
	assert.Equal(t, 0.0, sample.ConfidenceMin)
	assert.Equal(t, 0, sample.ObjectCount)
	assert.Empty(t, sample.ClassCounts)
	assert.Equal(t, 12.5, sample.DetectionTimeMs)
	assert.Equal(t, uint64(1), sample.FramesProcessed)
	assert.Equal(t, 640, sample.FrameWidth)
	assert.Equal(t, 480, sample.FrameHeight)
}

func TestAggregatorConfidenceStats(t *testing.T) {
	a := NewAggregator(100, 640, 480)

	raw := []pipeline.Detection{
		det(0, "person", 0.9),
		det(0, "person", 0.5),
		det(16, "dog", 0.7),
	}
	stabilized := []pipeline.StabilizedDetection{
		{Detection: raw[0], StabilityCount: 3},
	}
	sample := a.RecordFrame(raw, stabilized, 8.0)

	// Confidence statistics cover raw detections; the object count covers
	// what actually surfaced.
	assert.InDelta(t, 0.7, sample.ConfidenceAvg, 1e-9)
	assert.InDelta(t, 0.9, sample.ConfidenceMax, 1e-9)
	assert.InDelta(t, 0.5, sample.ConfidenceMin, 1e-9)
	assert.Equal(t, 1, sample.ObjectCount)

	require.Len(t, sample.ClassCounts, 2)
	assert.Equal(t, 2, sample.ClassCounts["person"])
	assert.Equal(t, 1, sample.ClassCounts["dog"])
	_, present := sample.ClassCounts["car"]
	assert.False(t, present, "classes not in the frame are absent, not zero")
}

func TestAggregatorFPSMovingAverage(t *testing.T) {
	a := NewAggregator(100, 640, 480)
	fixedClock(a, time.Unix(1000, 0), 50*time.Millisecond)

	sample := a.RecordFrame(nil, nil, 0)
	assert.Equal(t, 0.0, sample.FPS, "one timestamp is not a rate")

	for i := 0; i < 9; i++ {
		sample = a.RecordFrame(nil, nil, 0)
	}
	// 10 frames 50ms apart: 9 intervals over 450ms.
	assert.InDelta(t, 20.0, sample.FPS, 1e-6)
	assert.InDelta(t, 20.0, a.FPS(), 1e-6)
}

func TestAggregatorFPSWindowSlides(t *testing.T) {
	a := NewAggregator(4, 640, 480)

	// Two slow frames, then fast ones. Once the window slides past the slow
	// interval the rate reflects only the recent spacing.
	base := time.Unix(1000, 0)
	times := []time.Time{
		base,
		base.Add(1 * time.Second),
		base.Add(1050 * time.Millisecond),
		base.Add(1100 * time.Millisecond),
		base.Add(1150 * time.Millisecond),
		base.Add(1200 * time.Millisecond),
	}
	i := 0
	a.now = func() time.Time { t := times[i]; i++; return t }

	var sample *MetricsSample
	for range times {
		sample = a.RecordFrame(nil, nil, 0)
	}

	// Window holds the last 4 timestamps, 50ms apart: 3/0.15s = 20 fps.
	assert.InDelta(t, 20.0, sample.FPS, 1e-6)
}

func TestAggregatorSessionDurationAndFrames(t *testing.T) {
	a := NewAggregator(100, 640, 480)

	s1 := a.RecordFrame(nil, nil, 0)
	s2 := a.RecordFrame(nil, nil, 0)
	assert.Equal(t, uint64(1), s1.FramesProcessed)
	assert.Equal(t, uint64(2), s2.FramesProcessed)
	assert.GreaterOrEqual(t, s2.SessionDuration, s1.SessionDuration)
}

func TestAggregatorReset(t *testing.T) {
	a := NewAggregator(100, 640, 480)

	a.RecordFrame(nil, nil, 0)
	a.RecordFrame(nil, nil, 0)
	require.Equal(t, uint64(2), a.FramesProcessed())

	a.Reset()
	assert.Equal(t, uint64(0), a.FramesProcessed())
	assert.Equal(t, 0.0, a.FPS())

	// Session duration keeps running across resets.
	sample := a.RecordFrame(nil, nil, 0)
	assert.Equal(t, uint64(1), sample.FramesProcessed)
	assert.GreaterOrEqual(t, sample.SessionDuration, 0.0)
}
