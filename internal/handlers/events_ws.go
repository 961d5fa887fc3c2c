package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/common"
	"github.com/melodana/songforge/internal/worker"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Local single-user tool
	},
}

// WSMessage is the wire envelope for every broadcast
type WSMessage struct {
	Type    string       `json:"type"`
	Payload worker.Event `json:"payload"`
}

// EventsHandler broadcasts worker events to WebSocket clients. Workers own
// their outbound channels; each started worker is attached explicitly and
// the pump goroutine drains its channel until the worker closes it.
type EventsHandler struct {
	logger      arbor.ILogger
	mu          sync.RWMutex
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex
}

// NewEventsHandler creates the event broadcast hub
func NewEventsHandler(logger arbor.ILogger) *EventsHandler {
	return &EventsHandler{
		logger:      logger,
		clients:     make(map[*websocket.Conn]bool),
		clientMutex: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Attach drains a worker's event channel and broadcasts every event. The
// pump exits when the worker closes its channel after queue_finished.
func (h *EventsHandler) Attach(name string, events <-chan worker.Event) {
	common.SafeGo(h.logger, "events-pump-"+name, func() {
		for ev := range events {
			h.Broadcast(ev)
		}
		h.logger.Debug().Str("worker", name).Msg("Event pump finished")
	})
}

// Broadcast sends one event to every connected client
func (h *EventsHandler) Broadcast(ev worker.Event) {
	data, err := json.Marshal(WSMessage{Type: string(ev.Type), Payload: ev})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal worker event")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		mutexes[i].Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutexes[i].Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send event to client")
		}
	}
}

// HandleWebSocket upgrades the connection and holds it open until the
// client goes away
func (h *EventsHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", total)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}
