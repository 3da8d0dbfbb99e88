package overlay

import (
	"fmt"
	"log"
	"net/http"
	"sync"

	"vigil/internal/pipeline"
)

// Stream serves annotated frames as an MJPEG stream. It subscribes to the
// event bus, draws overlays on each result's frame and fans the annotated
// JPEG out to connected HTTP clients.
type Stream struct {
	renderer *Renderer

	clients      map[chan []byte]bool
	clientsMu    sync.RWMutex
	currentFrame []byte
	frameMu      sync.RWMutex
}

// NewStream creates a stream using renderer for overlays.
func NewStream(renderer *Renderer) *Stream {
	return &Stream{
		renderer: renderer,
		clients:  make(map[chan []byte]bool),
	}
}

// OnResult implements pipeline.ResultHandler. Rendering is skipped entirely
// when no client is connected.
func (s *Stream) OnResult(result *pipeline.StabilizedResult) {
	if len(result.FrameData) == 0 {
		return
	}

	s.clientsMu.RLock()
	active := len(s.clients) > 0
	s.clientsMu.RUnlock()
	if !active {
		return
	}

	frame := s.renderer.Draw(result.FrameData, result.Stabilized)

	s.frameMu.Lock()
	s.currentFrame = frame
	s.frameMu.Unlock()

	s.clientsMu.RLock()
	for ch := range s.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, drop frame
		}
	}
	s.clientsMu.RUnlock()
}

// CurrentFrame returns the latest annotated frame, or nil.
func (s *Stream) CurrentFrame() []byte {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.currentFrame
}

// ServeHTTP streams annotated frames as multipart/x-mixed-replace.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	clientCh := make(chan []byte, 5)
	s.clientsMu.Lock()
	s.clients[clientCh] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, clientCh)
		s.clientsMu.Unlock()
	}()

	log.Printf("[Overlay] Stream client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[Overlay] Stream client disconnected")
			return
		case frame := <-clientCh:
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
			w.Write(frame)
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
	}
}

var _ pipeline.ResultHandler = (*Stream)(nil)
