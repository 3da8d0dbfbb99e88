package influx

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"vigil/internal/metrics"
)

// Sink writes metric points to an InfluxDB v2 bucket. It is transport only:
// batching, retries and drop policy live in the metrics dispatcher, so the
// client's own retry machinery stays unused (blocking write API).
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	url    string
}

// Config holds the InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// New connects to InfluxDB and verifies reachability. A sink that cannot be
// reached at startup is still returned; metrics are best-effort and the
// dispatcher handles outages.
func New(cfg Config) *Sink {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(10))

	s := &Sink{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		url:    cfg.URL,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		log.Printf("[Influx] Sink unreachable at startup (%s): %v", cfg.URL, err)
	} else {
		log.Printf("[Influx] Connected to %s", cfg.URL)
	}

	return s
}

// WriteBatch implements metrics.Sink.
func (s *Sink) WriteBatch(ctx context.Context, points []metrics.Point) error {
	if len(points) == 0 {
		return nil
	}

	wpts := make([]*write.Point, 0, len(points))
	for _, p := range points {
		wpts = append(wpts, influxdb2.NewPoint(p.Measurement, p.Tags, p.Fields, p.Time))
	}

	if err := s.write.WritePoint(ctx, wpts...); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps an InfluxDB write error onto the dispatcher's error kinds.
// A 400 complaining about a field type is a schema conflict and must not be
// retried; everything else is an ordinary transmission failure.
func classify(err error) error {
	var httpErr *influxhttp.Error
	if errors.As(err, &httpErr) && httpErr.StatusCode == 400 &&
		strings.Contains(strings.ToLower(httpErr.Message), "field type conflict") {
		return &metrics.SchemaConflictError{Detail: httpErr.Message}
	}
	return &metrics.TransmissionError{Err: err}
}

// Ping implements metrics.Sink.
func (s *Sink) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return &metrics.TransmissionError{Err: err}
	}
	if !ok {
		return &metrics.TransmissionError{Err: fmt.Errorf("influxdb at %s did not answer ping", s.url)}
	}
	return nil
}

// Close implements metrics.Sink.
func (s *Sink) Close() {
	s.client.Close()
}

var _ metrics.Sink = (*Sink)(nil)
