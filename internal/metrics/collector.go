package metrics

import (
	"vigil/internal/pipeline"
)

// Collector bridges the frame path to the metrics path. It subscribes to the
// event bus, derives a sample from each stabilized result and hands it to
// the dispatcher. Both steps are cheap and non-blocking, so running inside
// the bus's synchronous delivery does not stall the frame loop.
type Collector struct {
	aggregator *Aggregator
	dispatcher *Dispatcher
}

// NewCollector creates a collector feeding dispatcher from aggregator.
func NewCollector(aggregator *Aggregator, dispatcher *Dispatcher) *Collector {
	return &Collector{
		aggregator: aggregator,
		dispatcher: dispatcher,
	}
}

// OnResult implements pipeline.ResultHandler.
func (c *Collector) OnResult(result *pipeline.StabilizedResult) {
	sample := c.aggregator.RecordFrame(result.Raw, result.Stabilized, result.DetectionTimeMs)
	c.dispatcher.Enqueue(sample)
}

var _ pipeline.ResultHandler = (*Collector)(nil)
