package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vigil/internal/pipeline"
)

// Hub manages WebSocket connections and pushes detection and status
// messages to every connected client. Writes to a connection are serialized
// through a per-client mutex; gorilla allows only one concurrent writer per
// connection, and both the frame path and the status loop broadcast here.
type Hub struct {
	clients map[*websocket.Conn]*sync.Mutex
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Register adds a connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] Client registered (total: %d)", total)
}

// Unregister removes a connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		log.Printf("[WS] Client unregistered (remaining: %d)", len(h.clients))
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients reports whether anyone is listening. Used to skip message
// marshaling on the frame path when nobody is connected.
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// Broadcast sends a raw message to every client, dropping connections whose
// writes fail. Safe to call from multiple goroutines; each client's writes
// go out one at a time under its write mutex.
func (h *Hub) Broadcast(message []byte) {
	type target struct {
		conn    *websocket.Conn
		writeMu *sync.Mutex
	}

	h.mu.RLock()
	targets := make([]target, 0, len(h.clients))
	for conn, writeMu := range h.clients {
		targets = append(targets, target{conn, writeMu})
	}
	h.mu.RUnlock()

	for _, t := range targets {
		t.writeMu.Lock()
		t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := t.conn.WriteMessage(websocket.TextMessage, message)
		t.writeMu.Unlock()
		if err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			h.Unregister(t.conn)
			t.conn.Close()
		}
	}
}

// BroadcastDetection marshals and broadcasts a detection message.
func (h *Hub) BroadcastDetection(msg *DetectionMessage) {
	if !h.HasClients() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] Error marshaling detection message: %v", err)
		return
	}
	h.Broadcast(data)
}

// BroadcastStatus marshals and broadcasts a status message.
func (h *Hub) BroadcastStatus(msg *StatusMessage) {
	if !h.HasClients() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] Error marshaling status message: %v", err)
		return
	}
	h.Broadcast(data)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local control surface; same-origin policy handled by the deployment
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades an HTTP request and keeps the connection registered
// until the client goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	h.Register(conn)

	// Reader loop: we ignore client messages but need to consume them to
	// notice disconnects.
	go func() {
		defer func() {
			h.Unregister(conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcaster adapts the hub to the event bus: every stabilized result
// becomes a detection message.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a bus handler pushing results to hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// OnResult implements pipeline.ResultHandler.
func (b *Broadcaster) OnResult(result *pipeline.StabilizedResult) {
	if !b.hub.HasClients() {
		return
	}

	msg := NewDetectionMessage(result.FrameSeq, result.Timestamp, result.Width, result.Height)
	for _, d := range result.Stabilized {
		msg.AddObject(d.Class, d.ClassID, d.Confidence,
			[]float32{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2}, d.StabilityCount)
	}
	b.hub.BroadcastDetection(msg)
}

var _ pipeline.ResultHandler = (*Broadcaster)(nil)
