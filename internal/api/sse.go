package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pv/labacq-go/internal/acquisition"
	"github.com/pv/labacq-go/internal/logger"
)

// SSEEvent is one message pushed to streaming clients
type SSEEvent struct {
	Type        string      `json:"type"`
	EquipmentID string      `json:"equipment,omitempty"`
	SessionID   string      `json:"session,omitempty"`
	Channel     string      `json:"channel,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// SSEClient is one connected event-stream consumer. An empty
// equipmentID subscribes to every equipment.
type SSEClient struct {
	events      chan SSEEvent
	equipmentID string
}

// SSEHub fans events out to connected clients. Slow clients lose
// events instead of blocking the sample path.
type SSEHub struct {
	mu      sync.RWMutex
	clients map[*SSEClient]bool
}

func NewSSEHub() *SSEHub {
	return &SSEHub{clients: make(map[*SSEClient]bool)}
}

// AddClient registers a consumer, optionally filtered to one equipment
func (h *SSEHub) AddClient(equipmentID string) *SSEClient {
	client := &SSEClient{
		events:      make(chan SSEEvent, 64),
		equipmentID: equipmentID,
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	return client
}

// RemoveClient unregisters a consumer
func (h *SSEHub) RemoveClient(client *SSEClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients
func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers an event to every matching client
func (h *SSEHub) Broadcast(event SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.equipmentID != "" && client.equipmentID != event.EquipmentID {
			continue
		}
		select {
		case client.events <- event:
		default:
			// client is not keeping up, drop the event
		}
	}
}

// BroadcastSample pushes one captured sample
func (h *SSEHub) BroadcastSample(equipmentID, channel string, s acquisition.Sample) {
	h.Broadcast(SSEEvent{
		Type:        "sample",
		EquipmentID: equipmentID,
		Channel:     channel,
		Data:        s,
		Timestamp:   time.Now(),
	})
}

// BroadcastState pushes a session state transition
func (h *SSEHub) BroadcastState(sessionID string, from, to acquisition.State) {
	h.Broadcast(SSEEvent{
		Type:      "state",
		SessionID: sessionID,
		Data:      map[string]string{"from": string(from), "to": string(to)},
		Timestamp: time.Now(),
	})
}

// HandleSSE streams events to one client until it disconnects
// GET /api/events?equipment=psu-1
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := h.hub.AddClient(r.URL.Query().Get("equipment"))
	defer h.hub.RemoveClient(client)

	connected, _ := json.Marshal(map[string]interface{}{
		"type":    "connected",
		"clients": h.hub.ClientCount(),
	})
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event := <-client.events:
			data, err := json.Marshal(event)
			if err != nil {
				logger.Warn("SSE marshal failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// GetSSEHub returns the hub for wiring callbacks
func (h *Handlers) GetSSEHub() *SSEHub {
	return h.hub
}
