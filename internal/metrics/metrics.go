package metrics

import (
	"context"
	"fmt"
	"time"
)

// MetricsSample is one aggregation cycle's scalar values. Created once per
// processed frame, immutable, queued for dispatch and discarded after
// successful (or exhausted-retry) transmission.
type MetricsSample struct {
	Timestamp       time.Time
	FPS             float64
	DetectionTimeMs float64
	ObjectCount     int
	ConfidenceAvg   float64
	ConfidenceMax   float64
	ConfidenceMin   float64
	ClassCounts     map[string]int
	SessionDuration float64 // seconds
	FramesProcessed uint64
	FrameWidth      int
	FrameHeight     int
}

// Point is one time-series record: measurement name, tag set, field set and
// timestamp. The sink decides how to encode it on the wire.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Time        time.Time
}

// Sink accepts batches of points. Implementations are the only place network
// I/O happens on the metrics path.
type Sink interface {
	// WriteBatch transmits a batch of points. A SchemaConflictError return
	// is never retried by the dispatcher.
	WriteBatch(ctx context.Context, points []Point) error

	// Ping reports whether the sink is reachable.
	Ping(ctx context.Context) error

	// Close releases sink resources.
	Close()
}

// TransmissionError wraps a sink failure. Recovered locally by the
// dispatcher via bounded retry, then drop-with-log; never propagated to the
// frame loop.
type TransmissionError struct {
	Err error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("metrics transmission failed: %v", e.Err)
}

func (e *TransmissionError) Unwrap() error { return e.Err }

// SchemaConflictError indicates a field's type disagrees with a prior write
// in the sink's series. Prevented by design (every primary-measurement field
// is emitted as a float); if it occurs anyway it is a schema-evolution bug
// and is surfaced loudly instead of retried.
type SchemaConflictError struct {
	Detail string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("metrics field type conflict: %s", e.Detail)
}
