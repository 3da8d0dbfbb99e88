package pipeline

import (
	"context"
	"log"
	"sync"
	"time"
)

// Stats contains pipeline counters, exported through the status endpoint.
type Stats struct {
	FramesProcessed uint64  `json:"frames_processed"`
	FramesSkipped   uint64  `json:"frames_skipped"`
	DetectorErrors  uint64  `json:"detector_errors"`
	LastFrameTime   int64   `json:"last_frame_time"` // Unix timestamp
	AvgDetectionMs  float64 `json:"avg_detection_ms"`
}

// Pipeline is the latency-critical frame path: capture -> detect ->
// stabilize -> publish. It owns the detection buffer exclusively; the only
// structure it shares with the metrics side is the dispatcher queue, behind
// a non-blocking enqueue on the subscriber side of the bus.
type Pipeline struct {
	source     FrameSource
	detector   Detector
	stabilizer *Stabilizer
	bus        *EventBus

	paused  bool
	stopCh  chan struct{}
	stopped sync.Once
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex

	stats   Stats
	statsMu sync.RWMutex
}

// New creates a pipeline wired to a frame source, a detector and a
// stabilizer. Results go out on bus.
func New(source FrameSource, detector Detector, stabilizer *Stabilizer, bus *EventBus) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		source:     source,
		detector:   detector,
		stabilizer: stabilizer,
		bus:        bus,
		stopCh:     make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the processing loop.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop halts the processing loop and waits for it to exit. An in-flight
// detector call is cancelled rather than waited out.
func (p *Pipeline) Stop() {
	p.stopped.Do(func() {
		close(p.stopCh)
		p.cancel()
	})
	p.wg.Wait()
}

// Pause suspends frame processing. Frames arriving while paused are dropped.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	log.Printf("[Pipeline] Paused")
}

// Resume restarts frame processing. The stabilizer window is reset so
// detections never match across the pause gap.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.stabilizer.Reset()
	log.Printf("[Pipeline] Resumed, stabilizer window reset")
}

// Paused reports whether the pipeline is paused.
func (p *Pipeline) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// Reset clears the stabilizer window. Takes effect before the next frame.
func (p *Pipeline) Reset() {
	p.stabilizer.Reset()
	log.Printf("[Pipeline] Stabilizer window reset")
}

// Stats returns a copy of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	sub := p.source.Subscribe(5)
	defer p.source.Unsubscribe(sub)

	log.Printf("[Pipeline] Processing loop started")

	for {
		select {
		case <-p.stopCh:
			log.Printf("[Pipeline] Processing loop stopped")
			return
		case <-sub.Done:
			log.Printf("[Pipeline] Frame source closed, stopping")
			return
		case frame := <-sub.Channel:
			if frame == nil {
				continue
			}
			p.processFrame(frame)
		}
	}
}

func (p *Pipeline) processFrame(frame *FrameData) {
	if p.Paused() {
		p.statsMu.Lock()
		p.stats.FramesSkipped++
		p.statsMu.Unlock()
		return
	}

	start := time.Now()
	raw, err := p.detector.Detect(p.ctx, frame)
	if err != nil {
		// Detector failures are external; nothing is masked or retried
		// here. The frame is skipped and the window left untouched.
		p.statsMu.Lock()
		p.stats.DetectorErrors++
		p.statsMu.Unlock()
		log.Printf("[Pipeline] Detection failed for frame %d: %v", frame.Seq, err)
		return
	}
	detectionMs := float64(time.Since(start)) / float64(time.Millisecond)

	stabilized := p.stabilizer.Stabilize(frame.Seq, frame.Timestamp, raw)

	p.statsMu.Lock()
	p.stats.FramesProcessed++
	p.stats.LastFrameTime = frame.Timestamp.Unix()
	if p.stats.AvgDetectionMs == 0 {
		p.stats.AvgDetectionMs = detectionMs
	} else {
		p.stats.AvgDetectionMs = (p.stats.AvgDetectionMs + detectionMs) / 2
	}
	p.statsMu.Unlock()

	p.bus.Publish(&StabilizedResult{
		FrameSeq:        frame.Seq,
		Timestamp:       frame.Timestamp,
		Raw:             raw,
		Stabilized:      stabilized,
		DetectionTimeMs: detectionMs,
		FrameData:       frame.Data,
		Width:           frame.Width,
		Height:          frame.Height,
	})
}
