package pipeline

import (
	"context"
)

// Detector runs object detection on a frame. Implementations are thin
// clients over an external inference service; failures propagate unmodified
// through this boundary.
type Detector interface {
	// Detect runs inference on a frame and returns the raw detections.
	Detect(ctx context.Context, frame *FrameData) ([]Detection, error)

	// IsHealthy reports whether the detection backend is reachable.
	IsHealthy() bool

	// Close releases detector resources.
	Close() error
}

// FrameSubscription represents an active subscription to frame data.
type FrameSubscription struct {
	Channel chan *FrameData
	Done    chan struct{} // Closed when the subscription is cancelled
}

// FrameSource captures frames from a camera and broadcasts to subscribers.
// Frame unavailability is the source's concern; subscribers simply see no
// frame that tick.
type FrameSource interface {
	// Start begins capturing frames.
	Start() error

	// Stop halts capture and cancels all subscriptions.
	Stop()

	// Subscribe returns a buffered channel of captured frames.
	// Callers must Unsubscribe when done.
	Subscribe(bufferSize int) *FrameSubscription

	// Unsubscribe removes a frame subscription.
	Unsubscribe(sub *FrameSubscription)
}

// ResultHandler receives stabilized results from the event bus.
type ResultHandler interface {
	// OnResult is called once per processed frame, in frame order.
	OnResult(result *StabilizedResult)
}
