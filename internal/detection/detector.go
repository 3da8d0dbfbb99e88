package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"vigil/internal/pipeline"
)

// DetectorError wraps any failure of the external detection service. The
// pipeline does not retry or mask these; a failed frame is simply skipped.
type DetectorError struct {
	Op  string
	Err error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s: %v", e.Op, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// Client is an HTTP client for a YOLO inference sidecar. The service, its
// model and its NMS settings are a black box; this client only ships frames
// and decodes detection lists.
type Client struct {
	endpoint      string
	client        *http.Client
	confThreshold float64

	healthCheck time.Time
	mu          sync.RWMutex
}

// detectionDTO mirrors the sidecar's JSON detection shape.
type detectionDTO struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

type detectResponse struct {
	Detections      []detectionDTO `json:"detections"`
	Count           int            `json:"count"`
	InferenceTimeMs float32        `json:"inference_time_ms"`
	Device          string         `json:"device"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

// NewClient creates a detector client for the given sidecar endpoint.
func NewClient(endpoint string, confThreshold float64) *Client {
	return &Client{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 15 * time.Second, // GPU inference can be slow on first frames
		},
		confThreshold: confThreshold,
	}
}

// Detect implements pipeline.Detector. The frame is posted as multipart form
// data and the response decoded into pipeline detections. Boxes with
// degenerate coordinates are discarded.
func (c *Client) Detect(ctx context.Context, frame *pipeline.FrameData) ([]pipeline.Detection, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, &DetectorError{Op: "encode", Err: err}
	}
	if _, err := fw.Write(frame.Data); err != nil {
		return nil, &DetectorError{Op: "encode", Err: err}
	}
	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.3f", c.confThreshold)); err != nil {
		return nil, &DetectorError{Op: "encode", Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &DetectorError{Op: "encode", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/detect", &b)
	if err != nil {
		return nil, &DetectorError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &DetectorError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &DetectorError{Op: "request", Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &DetectorError{Op: "decode", Err: err}
	}

	detections := make([]pipeline.Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		if len(d.BBox) != 4 {
			continue
		}
		box := pipeline.Box{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]}
		if box.X1 >= box.X2 || box.Y1 >= box.Y2 {
			continue
		}
		detections = append(detections, pipeline.Detection{
			ClassID:    d.ClassID,
			Class:      d.Class,
			Confidence: d.Confidence,
			Box:        box,
		})
	}

	return detections, nil
}

// IsHealthy implements pipeline.Detector. Health responses are cached for
// 30 seconds to keep the frame path off the health endpoint.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	fresh := time.Since(c.healthCheck) < 30*time.Second
	c.mu.RUnlock()
	if fresh {
		return true
	}

	resp, err := c.client.Get(c.endpoint + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	if !health.ModelLoaded {
		return false
	}

	c.mu.Lock()
	c.healthCheck = time.Now()
	c.mu.Unlock()
	return true
}

// Close implements pipeline.Detector.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

var _ pipeline.Detector = (*Client)(nil)
