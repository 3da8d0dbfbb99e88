package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]Point
	errs    []error // popped per WriteBatch call; nil past the end
}

func (s *fakeSink) WriteBatch(ctx context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	batch := make([]Point, len(points))
	copy(batch, points)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeSink) Ping(ctx context.Context) error { return nil }
func (s *fakeSink) Close()                         {}

func (s *fakeSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func testDispatcher(sink Sink, batchSize, maxRetries int) *Dispatcher {
	return NewDispatcher(sink, DispatcherConfig{
		BatchSize:    batchSize,
		Interval:     time.Hour, // keep the timer out of the way
		MaxRetries:   maxRetries,
		RetryBackoff: time.Millisecond,
		Enabled:      true,
		Tags:         map[string]string{"device": "webcam", "model": "yolov8n", "location": "lab"},
	})
}

func sample(frames uint64) *MetricsSample {
	return &MetricsSample{Timestamp: time.Now(), FPS: 20, FramesProcessed: frames}
}

func TestDispatcherBatchFillFlushesOnce(t *testing.T) {
	sink := &fakeSink{}
	d := testDispatcher(sink, 10, 3)
	d.Start()
	defer d.Close()

	for i := 0; i < 11; i++ {
		d.Enqueue(sample(uint64(i)))
	}

	// One flush of exactly batchSize samples; the 11th stays queued until
	// the next fill or timer tick.
	require.Eventually(t, func() bool { return sink.batchCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, d.QueueLen())

	sink.mu.Lock()
	primary := 0
	for _, p := range sink.batches[0] {
		if p.Measurement == MeasurementDetection {
			primary++
		}
	}
	sink.mu.Unlock()
	assert.Equal(t, 10, primary)

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.BatchesSent)
}

func TestDispatcherDisabledDropsSamples(t *testing.T) {
	sink := &fakeSink{}
	d := testDispatcher(sink, 10, 3)
	d.SetEnabled(false)

	d.Enqueue(sample(1))
	assert.Equal(t, 0, d.QueueLen())

	// Re-enabling resumes acceptance without a restart.
	d.SetEnabled(true)
	assert.True(t, d.Enabled())
	d.Enqueue(sample(2))
	assert.Equal(t, 1, d.QueueLen())
}

func TestDispatcherRetriesThenDrops(t *testing.T) {
	sink := &fakeSink{errs: []error{
		&TransmissionError{Err: context.DeadlineExceeded},
		&TransmissionError{Err: context.DeadlineExceeded},
		&TransmissionError{Err: context.DeadlineExceeded},
	}}
	d := testDispatcher(sink, 10, 3)

	d.Enqueue(sample(1))
	d.flushOnce(context.Background())

	assert.Equal(t, 0, sink.batchCount(), "all attempts failed")
	assert.Equal(t, 0, d.QueueLen(), "batch dropped, not requeued")

	stats := d.Stats()
	assert.Equal(t, uint64(3), stats.Errors)
	assert.Equal(t, uint64(1), stats.BatchesDropped)
	assert.Equal(t, uint64(0), stats.PointsSent)
}

func TestDispatcherRecoversMidRetry(t *testing.T) {
	sink := &fakeSink{errs: []error{
		&TransmissionError{Err: context.DeadlineExceeded},
	}}
	d := testDispatcher(sink, 10, 3)

	d.Enqueue(sample(1))
	d.flushOnce(context.Background())

	assert.Equal(t, 1, sink.batchCount(), "second attempt succeeded")
	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Errors)
	assert.Equal(t, uint64(1), stats.BatchesSent)
	assert.Equal(t, uint64(0), stats.BatchesDropped)
}

func TestDispatcherSchemaConflictNeverRetried(t *testing.T) {
	sink := &fakeSink{errs: []error{
		&SchemaConflictError{Detail: "field type conflict: object_count is type float, already exists as type integer"},
	}}
	d := testDispatcher(sink, 10, 3)

	d.Enqueue(sample(1))
	d.flushOnce(context.Background())

	// A schema conflict is deterministic; one attempt, loud log, batch gone.
	assert.Equal(t, 0, sink.batchCount())
	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Errors)
	assert.Equal(t, uint64(1), stats.BatchesDropped)
}

func TestDispatcherFlushDrainsQueue(t *testing.T) {
	sink := &fakeSink{}
	d := testDispatcher(sink, 10, 3)

	for i := 0; i < 25; i++ {
		d.Enqueue(sample(uint64(i)))
	}
	// 25 samples at batch size 10: one full-batch signal already fired but
	// the worker is not running; Flush drains everything synchronously.
	require.True(t, d.Flush(time.Second))
	assert.Equal(t, 0, d.QueueLen())
	assert.Equal(t, 3, sink.batchCount())

	sink.mu.Lock()
	sent := 0
	for _, b := range sink.batches {
		for _, p := range b {
			if p.Measurement == MeasurementDetection {
				sent++
			}
		}
	}
	sink.mu.Unlock()
	assert.Equal(t, 25, sent)
}

func TestDispatcherPointConversion(t *testing.T) {
	sink := &fakeSink{}
	d := testDispatcher(sink, 10, 3)

	s := &MetricsSample{
		Timestamp:       time.Now(),
		FPS:             19.5,
		DetectionTimeMs: 42.0,
		ObjectCount:     2,
		ConfidenceAvg:   0.7,
		ConfidenceMax:   0.9,
		ConfidenceMin:   0.5,
		ClassCounts:     map[string]int{"person": 2, "dog": 1},
		SessionDuration: 12.0,
		FramesProcessed: 300,
		FrameWidth:      640,
		FrameHeight:     480,
	}
	d.Enqueue(s)
	d.flushOnce(context.Background())

	require.Equal(t, 1, sink.batchCount())
	batch := sink.batches[0]
	require.Len(t, batch, 3) // primary + two class-count points

	primary := batch[0]
	assert.Equal(t, MeasurementDetection, primary.Measurement)
	assert.Equal(t, "webcam", primary.Tags["device"])
	// Every primary field is a float, counts included. A single integer
	// write would poison the series for all later float writes.
	for name, value := range primary.Fields {
		assert.IsType(t, float64(0), value, "field %s", name)
	}
	assert.Equal(t, float64(2), primary.Fields["object_count"])
	assert.Equal(t, float64(300), primary.Fields["frames_processed"])

	classes := map[string]int64{}
	for _, p := range batch[1:] {
		assert.Equal(t, MeasurementClassCounts, p.Measurement)
		assert.Equal(t, "webcam", p.Tags["device"])
		count, ok := p.Fields["count"].(int64)
		require.True(t, ok, "class count stays an integer")
		classes[p.Tags["class"]] = count
	}
	assert.Equal(t, int64(2), classes["person"])
	assert.Equal(t, int64(1), classes["dog"])
}

func TestDispatcherCloseFlushesPending(t *testing.T) {
	sink := &fakeSink{}
	d := testDispatcher(sink, 10, 3)
	d.Start()

	d.Enqueue(sample(1))
	d.Enqueue(sample(2))
	d.Close()

	assert.Equal(t, 0, d.QueueLen())
	assert.GreaterOrEqual(t, sink.batchCount(), 1)
}
