package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vigil/internal/camera"
	"vigil/internal/config"
	"vigil/internal/detection"
	"vigil/internal/influx"
	"vigil/internal/metrics"
	"vigil/internal/overlay"
	"vigil/internal/pipeline"
	"vigil/internal/store"
	"vigil/internal/ws"
)

func main() {
	cfg := config.Default()

	flag.StringVar(&cfg.CameraDevice, "device", cfg.CameraDevice, "Camera device (v4l2 path, rtsp:// or http:// URL)")
	flag.IntVar(&cfg.CameraFPS, "fps", cfg.CameraFPS, "Capture frame rate")
	flag.IntVar(&cfg.FrameWidth, "width", cfg.FrameWidth, "Frame width")
	flag.IntVar(&cfg.FrameHeight, "height", cfg.FrameHeight, "Frame height")
	flag.StringVar(&cfg.DetectorEndpoint, "detector", cfg.DetectorEndpoint, "Detection service endpoint")
	flag.Float64Var(&cfg.DetectorConfidence, "conf", cfg.DetectorConfidence, "Detector confidence threshold")

	flag.IntVar(&cfg.DetectionBufferSize, "buffer-size", cfg.DetectionBufferSize, "Stabilizer window size in frames")
	flag.Float64Var(&cfg.ConfidenceSmoothing, "smoothing", cfg.ConfidenceSmoothing, "Confidence smoothing factor [0,1]")
	flag.Float64Var(&cfg.PositionTolerance, "tolerance", cfg.PositionTolerance, "Position tolerance in pixels")
	flag.IntVar(&cfg.MinStableFrames, "min-stable", cfg.MinStableFrames, "Frames required before a detection surfaces")
	flag.BoolVar(&cfg.EnableTracking, "tracking", cfg.EnableTracking, "Enable detection stabilization")

	flag.IntVar(&cfg.FPSCalculationWindow, "fps-window", cfg.FPSCalculationWindow, "Frames in the FPS moving average")
	flag.DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Metrics flush interval")
	flag.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Metrics batch size")
	flag.BoolVar(&cfg.MetricsEnabled, "metrics", cfg.MetricsEnabled, "Enable metrics dispatch")

	flag.StringVar(&cfg.InfluxURL, "influx-url", cfg.InfluxURL, "InfluxDB URL")
	flag.StringVar(&cfg.InfluxToken, "influx-token", os.Getenv("INFLUX_TOKEN"), "InfluxDB token (or INFLUX_TOKEN env)")
	flag.StringVar(&cfg.InfluxOrg, "influx-org", cfg.InfluxOrg, "InfluxDB organization")
	flag.StringVar(&cfg.InfluxBucket, "influx-bucket", cfg.InfluxBucket, "InfluxDB bucket")
	flag.StringVar(&cfg.DeviceTag, "tag-device", cfg.DeviceTag, "Device tag on metrics points")
	flag.StringVar(&cfg.ModelTag, "tag-model", cfg.ModelTag, "Model tag on metrics points")
	flag.StringVar(&cfg.LocationTag, "tag-location", cfg.LocationTag, "Location tag on metrics points")

	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	flag.Parse()

	logger := log.New(os.Stderr, "[vigil] ", log.Ltime)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("configuration: %v", err)
	}

	// Persistence
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("store: %v", err)
	}
	sessionID, err := db.StartSession()
	if err != nil {
		logger.Fatalf("store: %v", err)
	}
	logger.Printf("session %s started", sessionID)

	// Metrics path
	sink := influx.New(influx.Config{
		URL:    cfg.InfluxURL,
		Token:  cfg.InfluxToken,
		Org:    cfg.InfluxOrg,
		Bucket: cfg.InfluxBucket,
	})
	aggregator := metrics.NewAggregator(cfg.FPSCalculationWindow, cfg.FrameWidth, cfg.FrameHeight)
	dispatcher := metrics.NewDispatcher(sink, metrics.DispatcherConfig{
		BatchSize:  cfg.BatchSize,
		Interval:   cfg.MetricsInterval,
		MaxRetries: cfg.MaxRetries,
		Enabled:    cfg.MetricsEnabled,
		Tags: map[string]string{
			"device":   cfg.DeviceTag,
			"model":    cfg.ModelTag,
			"location": cfg.LocationTag,
		},
	})
	dispatcher.Start()

	// Frame path
	detector := detection.NewClient(cfg.DetectorEndpoint, cfg.DetectorConfidence)
	if !detector.IsHealthy() {
		logger.Printf("warning: detection service at %s is not healthy yet", cfg.DetectorEndpoint)
	}
	stabilizer := pipeline.NewStabilizer(cfg.DetectionBufferSize, cfg.ConfidenceSmoothing,
		cfg.PositionTolerance, cfg.MinStableFrames, cfg.EnableTracking)
	source := camera.NewSource(cfg.CameraDevice, cfg.CameraFPS, cfg.FrameWidth, cfg.FrameHeight)
	bus := pipeline.NewEventBus()
	pipe := pipeline.New(source, detector, stabilizer, bus)

	// Consumers
	hub := ws.NewHub()
	stream := overlay.NewStream(overlay.NewRenderer())
	bus.Subscribe(metrics.NewCollector(aggregator, dispatcher))
	bus.Subscribe(store.NewRecorder(db, sessionID))
	bus.Subscribe(ws.NewBroadcaster(hub))
	bus.Subscribe(stream)

	if err := source.Start(); err != nil {
		logger.Fatalf("camera: %v", err)
	}
	pipe.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &application{
		cfg:        cfg,
		pipe:       pipe,
		stabilizer: stabilizer,
		aggregator: aggregator,
		dispatcher: dispatcher,
		sink:       sink,
		source:     source,
		hub:        hub,
		stream:     stream,
		store:      db,
		sessionID:  sessionID,
	}
	go app.statusLoop(ctx)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: app.routes(),
	}
	go func() {
		logger.Printf("control surface listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	pipe.Stop()
	source.Stop()
	detector.Close()
	bus.Close()

	// Best-effort metrics drain before the sink goes away
	dispatcher.Close()
	sink.Close()

	if err := db.EndSession(sessionID, aggregator.FramesProcessed()); err != nil {
		logger.Printf("store: %v", err)
	}
	db.Close()

	logger.Printf("session %s ended after %d frames", sessionID, aggregator.FramesProcessed())
}

// statusLoop pushes live pipeline state to websocket clients.
func (a *application) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	connected := false
	lastPing := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.hub.HasClients() {
				continue
			}
			// Reachability probes stay rare; outages surface via stats anyway
			if time.Since(lastPing) > 15*time.Second {
				pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				connected = a.sink.Ping(pingCtx) == nil
				cancel()
				lastPing = time.Now()
			}
			stats := a.dispatcher.Stats()
			a.hub.BroadcastStatus(&ws.StatusMessage{
				Type:             "status",
				Timestamp:        time.Now(),
				Paused:           a.pipe.Paused(),
				TrackingEnabled:  a.stabilizer.Tracking(),
				MetricsEnabled:   a.dispatcher.Enabled(),
				MetricsConnected: connected,
				FPS:              a.aggregator.FPS(),
				PointsSent:       stats.PointsSent,
				MetricsErrors:    stats.Errors,
			})
		}
	}
}
