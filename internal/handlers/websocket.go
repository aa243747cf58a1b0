// -----------------------------------------------------------------------
// WebSocket handler - broadcasts every bus event to connected clients.
// One bus subscription feeds all connections; per-connection mutexes keep
// concurrent writes off the same socket.
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocketHandler fans bus events out to WebSocket clients
type WebSocketHandler struct {
	bus    interfaces.EventBus
	logger arbor.ILogger

	mu          sync.RWMutex
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex

	// Unique ID generated on startup. Clients use it to detect a server
	// restart and drop stale job subscriptions.
	serverInstanceID string

	stopOnce sync.Once
	sub      interfaces.Subscription
}

// wsEnvelope is the wire shape sent to clients
type wsEnvelope struct {
	Type             string       `json:"type"`
	ServerInstanceID string       `json:"server_instance_id,omitempty"`
	Event            *models.Event `json:"event,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

func NewWebSocketHandler(bus interfaces.EventBus, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		bus:              bus,
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	h.sub = bus.Subscribe(interfaces.SubscriptionFilter{}, 0)
	go h.pump()

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")
	return h
}

// HandleWebSocket handles GET /ws upgrade requests
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("WebSocket client connected")

	// Hello frame carries the instance id for restart detection
	h.writeTo(conn, wsEnvelope{
		Type:             "hello",
		ServerInstanceID: h.serverInstanceID,
		Timestamp:        time.Now(),
	})

	// Reads are only consumed to detect disconnect
	go func() {
		defer h.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// pump forwards bus events to every connected client
func (h *WebSocketHandler) pump() {
	for event := range h.sub.Events() {
		evt := event
		envelope := wsEnvelope{
			Type:      "event",
			Event:     &evt,
			Timestamp: time.Now(),
		}

		h.mu.RLock()
		conns := make([]*websocket.Conn, 0, len(h.clients))
		for conn := range h.clients {
			conns = append(conns, conn)
		}
		h.mu.RUnlock()

		for _, conn := range conns {
			if err := h.writeTo(conn, envelope); err != nil {
				h.dropClient(conn)
			}
		}
	}
}

// Close unsubscribes from the bus and closes every client connection
func (h *WebSocketHandler) Close() {
	h.stopOnce.Do(func() {
		h.bus.Unsubscribe(h.sub)

		h.mu.Lock()
		for conn := range h.clients {
			conn.Close()
		}
		h.clients = make(map[*websocket.Conn]bool)
		h.clientMutex = make(map[*websocket.Conn]*sync.Mutex)
		h.mu.Unlock()
	})
}

func (h *WebSocketHandler) writeTo(conn *websocket.Conn, envelope wsEnvelope) error {
	h.mu.RLock()
	lock, ok := h.clientMutex[conn]
	h.mu.RUnlock()
	if !ok {
		return websocket.ErrCloseSent
	}

	lock.Lock()
	defer lock.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(envelope)
}

func (h *WebSocketHandler) dropClient(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("WebSocket client disconnected")
}
