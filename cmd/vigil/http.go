package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"vigil/internal/camera"
	"vigil/internal/config"
	"vigil/internal/metrics"
	"vigil/internal/overlay"
	"vigil/internal/pipeline"
	"vigil/internal/store"
	"vigil/internal/ws"
)

// application bundles the running components behind the control surface.
type application struct {
	cfg        *config.Config
	pipe       *pipeline.Pipeline
	stabilizer *pipeline.Stabilizer
	aggregator *metrics.Aggregator
	dispatcher *metrics.Dispatcher
	sink       metrics.Sink
	source     *camera.Source
	hub        *ws.Hub
	stream     *overlay.Stream
	store      *store.Store
	sessionID  string
}

func (a *application) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("POST /api/reset", a.handleReset)
	mux.HandleFunc("POST /api/pause", a.handlePause)
	mux.HandleFunc("POST /api/resume", a.handleResume)
	mux.HandleFunc("POST /api/metrics/enable", a.handleMetricsToggle(true))
	mux.HandleFunc("POST /api/metrics/disable", a.handleMetricsToggle(false))
	mux.HandleFunc("POST /api/tracking/enable", a.handleTrackingToggle(true))
	mux.HandleFunc("POST /api/tracking/disable", a.handleTrackingToggle(false))
	mux.HandleFunc("GET /api/detections", a.handleDetections)
	mux.HandleFunc("GET /ws", a.hub.HandleWS)
	mux.Handle("GET /stream", a.stream)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func (a *application) handleStatus(w http.ResponseWriter, r *http.Request) {
	pipeStats := a.pipe.Stats()
	dispStats := a.dispatcher.Stats()
	camStats := a.source.Stats()

	detections, err := a.store.CountBySession(a.sessionID)
	if err != nil {
		log.Printf("[API] Failed to count detections: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":       a.sessionID,
		"paused":           a.pipe.Paused(),
		"tracking_enabled": a.stabilizer.Tracking(),
		"fps":              a.aggregator.FPS(),
		"frames_processed": a.aggregator.FramesProcessed(),
		"window_frames":    a.stabilizer.WindowLen(),
		"ws_clients":       a.hub.ClientCount(),
		"pipeline":         pipeStats,
		"camera":           camStats,
		"metrics": map[string]any{
			"enabled":    a.dispatcher.Enabled(),
			"queue_len":  a.dispatcher.QueueLen(),
			"dispatcher": dispStats,
		},
		"stored_detections": detections,
	})
}

// handleReset clears the temporal window and the FPS ring. Stability counts
// rebuild from the next frame.
func (a *application) handleReset(w http.ResponseWriter, r *http.Request) {
	a.pipe.Reset()
	a.aggregator.Reset()
	log.Printf("[API] Pipeline reset")
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

func (a *application) handlePause(w http.ResponseWriter, r *http.Request) {
	a.pipe.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"status": "paused"})
}

func (a *application) handleResume(w http.ResponseWriter, r *http.Request) {
	a.pipe.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"status": "running"})
}

func (a *application) handleMetricsToggle(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.dispatcher.SetEnabled(enabled)
		writeJSON(w, http.StatusOK, map[string]any{"metrics_enabled": enabled})
	}
}

func (a *application) handleTrackingToggle(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.stabilizer.SetTracking(enabled)
		writeJSON(w, http.StatusOK, map[string]any{"tracking_enabled": enabled})
	}
}

func (a *application) handleDetections(w http.ResponseWriter, r *http.Request) {
	limit := 100
	records, err := a.store.RecentDetections(a.sessionID, limit)
	if err != nil {
		log.Printf("[API] Failed to load detections: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "database error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": a.sessionID,
		"count":      len(records),
		"detections": records,
		"as_of":      time.Now(),
	})
}
