package config

import (
	"fmt"
	"time"
)

// Config holds every tunable consumed by the detection and metrics pipelines.
// It is built once at startup, validated, and passed by value into each
// component; nothing mutates it afterwards. Live toggles (tracking, metrics)
// are runtime flags on the components themselves, not config fields.
type Config struct {
	// Stabilizer tunables
	DetectionBufferSize int     // frames kept in the temporal window
	ConfidenceSmoothing float64 // weight of history vs the current frame [0,1]
	PositionTolerance   float64 // max center-to-center distance in pixels
	MinStableFrames     int     // matches required before a detection surfaces
	EnableTracking      bool    // initial state of the stabilizer

	// Metrics tunables
	FPSCalculationWindow int           // frame timestamps in the FPS moving average
	MetricsInterval      time.Duration // dispatcher timer flush interval
	BatchSize            int           // samples per dispatcher batch
	MaxRetries           int           // transmission attempts before a batch is dropped
	MetricsEnabled       bool          // initial state of the dispatcher

	// Camera source
	CameraDevice string
	CameraFPS    int
	FrameWidth   int
	FrameHeight  int

	// Detector sidecar
	DetectorEndpoint   string
	DetectorConfidence float64 // confidence threshold forwarded to the detector

	// Time-series sink
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Tags attached to every metrics point
	DeviceTag   string
	ModelTag    string
	LocationTag string

	// Persistence and control surface
	DatabasePath string
	ListenAddr   string
}

// ConfigurationError reports an invalid tunable. It is fatal at startup and
// never raised at runtime.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Default returns the configuration the system ships with. The stabilizer
// and metrics defaults are tuned for a webcam feed around 30fps.
func Default() *Config {
	return &Config{
		DetectionBufferSize:  3,
		ConfidenceSmoothing:  0.8,
		PositionTolerance:    30,
		MinStableFrames:      2,
		EnableTracking:       true,
		FPSCalculationWindow: 100,
		MetricsInterval:      time.Second,
		BatchSize:            100,
		MaxRetries:           3,
		MetricsEnabled:       true,
		CameraDevice:         "/dev/video0",
		CameraFPS:            30,
		FrameWidth:           640,
		FrameHeight:          480,
		DetectorEndpoint:     "http://localhost:8050",
		DetectorConfidence:   0.5,
		InfluxURL:            "http://localhost:8086",
		InfluxOrg:            "object-detection-org",
		InfluxBucket:         "object-detection",
		DeviceTag:            "webcam",
		ModelTag:             "yolov8n",
		LocationTag:          "default",
		DatabasePath:         "vigil.db",
		ListenAddr:           ":8080",
	}
}

// Validate checks every tunable and returns a ConfigurationError for the
// first invalid one.
func (c *Config) Validate() error {
	if c.DetectionBufferSize < 1 {
		return &ConfigurationError{"detection_buffer_size", "must be >= 1"}
	}
	if c.ConfidenceSmoothing < 0 || c.ConfidenceSmoothing > 1 {
		return &ConfigurationError{"confidence_smoothing", "must be in [0,1]"}
	}
	if c.PositionTolerance <= 0 {
		return &ConfigurationError{"position_tolerance", "must be > 0"}
	}
	if c.MinStableFrames < 1 {
		return &ConfigurationError{"min_stable_frames", "must be >= 1"}
	}
	if c.MinStableFrames > c.DetectionBufferSize {
		return &ConfigurationError{"min_stable_frames", "cannot exceed detection_buffer_size"}
	}
	if c.FPSCalculationWindow <= 0 {
		return &ConfigurationError{"fps_calculation_window", "must be > 0"}
	}
	if c.MetricsInterval <= 0 {
		return &ConfigurationError{"metrics_interval", "must be > 0"}
	}
	if c.BatchSize <= 0 {
		return &ConfigurationError{"batch_size", "must be > 0"}
	}
	if c.MaxRetries < 1 {
		return &ConfigurationError{"max_retries", "must be >= 1"}
	}
	if c.CameraFPS <= 0 {
		return &ConfigurationError{"camera_fps", "must be > 0"}
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return &ConfigurationError{"frame_size", "width and height must be > 0"}
	}
	if c.DetectorConfidence < 0 || c.DetectorConfidence > 1 {
		return &ConfigurationError{"detector_confidence", "must be in [0,1]"}
	}
	return nil
}
