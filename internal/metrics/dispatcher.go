package metrics

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// MeasurementDetection is the primary metrics measurement. Every field in it
// is written as a float so a batch with an integral value never conflicts
// with a prior fractional write.
const MeasurementDetection = "object_detection_metrics"

// MeasurementClassCounts holds one point per class per frame. The count
// field is an integer; it is never mixed with floats.
const MeasurementClassCounts = "object_counts"

// DispatcherStats are the transmission counters shown on the status surface.
type DispatcherStats struct {
	PointsSent     uint64 `json:"points_sent"`
	BatchesSent    uint64 `json:"batches_sent"`
	BatchesDropped uint64 `json:"batches_dropped"`
	Errors         uint64 `json:"errors"`
	QueueDepth     int    `json:"queue_depth"`
	LastSendTime   int64  `json:"last_send_time"` // Unix timestamp, 0 if never
}

// Dispatcher decouples metrics production from transmission. The frame path
// enqueues without blocking; a single worker goroutine owns all sink I/O and
// flushes when a batch fills or the interval timer fires, whichever comes
// first. Transmission failures are retried a bounded number of times, then
// the batch is dropped with a log line. Metrics are best-effort: nothing
// here is a correctness dependency for the detection pipeline.
type Dispatcher struct {
	sink         Sink
	batchSize    int
	interval     time.Duration
	maxRetries   int
	retryBackoff time.Duration
	tags         map[string]string

	queue   []*MetricsSample
	enabled bool
	mu      sync.Mutex

	notify chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	stats   DispatcherStats
	statsMu sync.Mutex
}

// DispatcherConfig collects the dispatcher tunables.
type DispatcherConfig struct {
	BatchSize    int
	Interval     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration // defaults to 100ms
	Enabled      bool
	Tags         map[string]string // device, model, location
}

// NewDispatcher creates a dispatcher writing to sink. Call Start to launch
// the worker.
func NewDispatcher(sink Sink, cfg DispatcherConfig) *Dispatcher {
	backoff := cfg.RetryBackoff
	if backoff == 0 {
		backoff = 100 * time.Millisecond
	}
	return &Dispatcher{
		sink:         sink,
		batchSize:    cfg.BatchSize,
		interval:     cfg.Interval,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: backoff,
		tags:         cfg.Tags,
		queue:        make([]*MetricsSample, 0, cfg.BatchSize),
		enabled:      cfg.Enabled,
		notify:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Enqueue queues a sample for transmission. Never blocks; when the
// dispatcher is disabled the sample is discarded.
func (d *Dispatcher) Enqueue(sample *MetricsSample) {
	if sample == nil {
		return
	}

	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, sample)
	// Signal only on the crossing so a single fill triggers a single flush;
	// samples past the threshold wait for the timer or the next fill.
	full := len(d.queue) == d.batchSize
	d.mu.Unlock()

	if full {
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}
}

// SetEnabled toggles dispatch live. Disabling stops new samples from being
// queued; re-enabling resumes dispatch without a restart.
func (d *Dispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
	if enabled {
		log.Printf("[Dispatcher] Metrics dispatch enabled")
	} else {
		log.Printf("[Dispatcher] Metrics dispatch disabled")
	}
}

// Enabled reports whether samples are being accepted.
func (d *Dispatcher) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// QueueLen returns the number of samples waiting for transmission.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Stats returns a copy of the transmission counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.statsMu.Lock()
	stats := d.stats
	d.statsMu.Unlock()
	stats.QueueDepth = d.QueueLen()
	return stats
}

// Flush synchronously drains the queue, transmitting batch by batch until
// the queue is empty or the timeout elapses. Returns true if the queue was
// fully drained.
func (d *Dispatcher) Flush(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for d.QueueLen() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		d.flushOnce(ctx)
		cancel()
	}
	return true
}

// Close stops the worker and flushes pending samples on a best-effort basis
// with a bounded timeout.
func (d *Dispatcher) Close() {
	close(d.stopCh)
	d.wg.Wait()
	if !d.Flush(5 * time.Second) {
		log.Printf("[Dispatcher] Shutdown flush timed out with %d samples queued", d.QueueLen())
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-d.notify:
			d.flushOnce(context.Background())
		case <-ticker.C:
			d.flushOnce(context.Background())
		}
	}
}

// flushOnce transmits at most one batch of up to batchSize samples.
func (d *Dispatcher) flushOnce(ctx context.Context) {
	d.mu.Lock()
	if len(d.queue) == 0 {
		d.mu.Unlock()
		return
	}
	n := len(d.queue)
	if n > d.batchSize {
		n = d.batchSize
	}
	batch := make([]*MetricsSample, n)
	copy(batch, d.queue[:n])
	remaining := copy(d.queue, d.queue[n:])
	d.queue = d.queue[:remaining]
	d.mu.Unlock()

	if remaining >= d.batchSize {
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}

	points := d.samplesToPoints(batch)
	d.transmit(ctx, points)
}

// transmit writes a batch with bounded retries. Schema conflicts are logged
// loudly and never retried; any other failure is retried maxRetries times
// before the batch is dropped.
func (d *Dispatcher) transmit(ctx context.Context, points []Point) {
	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		err := d.sink.WriteBatch(ctx, points)
		if err == nil {
			d.statsMu.Lock()
			d.stats.PointsSent += uint64(len(points))
			d.stats.BatchesSent++
			d.stats.LastSendTime = time.Now().Unix()
			d.statsMu.Unlock()
			return
		}

		var schemaErr *SchemaConflictError
		if errors.As(err, &schemaErr) {
			d.statsMu.Lock()
			d.stats.Errors++
			d.stats.BatchesDropped++
			d.statsMu.Unlock()
			log.Printf("[Dispatcher] SCHEMA CONFLICT, batch dropped without retry: %v", schemaErr)
			return
		}

		lastErr = err
		d.statsMu.Lock()
		d.stats.Errors++
		d.statsMu.Unlock()

		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				attempt = d.maxRetries
			case <-time.After(d.retryBackoff):
			}
		}
	}

	d.statsMu.Lock()
	d.stats.BatchesDropped++
	d.statsMu.Unlock()
	log.Printf("[Dispatcher] Dropped batch of %d points after %d attempts: %v", len(points), d.maxRetries, lastErr)
}

// samplesToPoints converts samples to sink points: one primary point per
// sample with every field as a float, plus one class-count point per class
// present in the frame.
func (d *Dispatcher) samplesToPoints(samples []*MetricsSample) []Point {
	points := make([]Point, 0, len(samples))
	for _, s := range samples {
		points = append(points, Point{
			Measurement: MeasurementDetection,
			Tags:        d.tags,
			Fields: map[string]interface{}{
				"fps":               s.FPS,
				"detection_time_ms": s.DetectionTimeMs,
				"object_count":      float64(s.ObjectCount),
				"confidence_avg":    s.ConfidenceAvg,
				"confidence_max":    s.ConfidenceMax,
				"confidence_min":    s.ConfidenceMin,
				"session_duration":  s.SessionDuration,
				"frames_processed":  float64(s.FramesProcessed),
				"frame_width":       float64(s.FrameWidth),
				"frame_height":      float64(s.FrameHeight),
			},
			Time: s.Timestamp,
		})

		for class, count := range s.ClassCounts {
			tags := make(map[string]string, len(d.tags)+1)
			for k, v := range d.tags {
				tags[k] = v
			}
			tags["class"] = class
			points = append(points, Point{
				Measurement: MeasurementClassCounts,
				Tags:        tags,
				Fields:      map[string]interface{}{"count": int64(count)},
				Time:        s.Timestamp,
			})
		}
	}
	return points
}
