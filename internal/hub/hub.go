// Package hub maintains the message channel between the gateway and open
// application windows.
//
// Connected windows are the gateway's view of "open clients": the share
// handler asks the hub to focus one after an ingest, and the update protocol
// broadcasts the controller-change signal here when a new version takes
// over. Inbound frames are handed to a pluggable handler; the update package
// parses activation messages out of them.
package hub

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gestore/gateway/internal/infrastructure/logging"
	"github.com/gestore/gateway/internal/infrastructure/monitoring"
	"github.com/gestore/gateway/internal/shared/id"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // same-device traffic only; the gateway is not public
	},
}

// MessageHandler receives raw inbound frames from a connected window.
type MessageHandler func(window id.WindowID, data []byte)

type client struct {
	id      id.WindowID
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub tracks connected foreground windows.
type Hub struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu          sync.Mutex
	clients     []*client
	pendingOpen bool
	onMessage   MessageHandler
}

// New creates a hub.
func New(logger *logging.Logger) *Hub {
	return &Hub{logger: logger.Named("hub")}
}

// WithMetrics attaches a metrics collector.
func (h *Hub) WithMetrics(metrics *monitoring.Metrics) *Hub {
	h.metrics = metrics
	return h
}

// SetMessageHandler installs the inbound frame handler.
func (h *Hub) SetMessageHandler(fn MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

// HandleConnection upgrades a window connection and pumps its messages until
// it closes.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	cl := &client{id: id.NewWindowID(), conn: conn}
	openPending := h.register(cl)
	defer h.unregister(cl)

	h.logger.Info("window connected", zap.String("window", string(cl.id)))

	if payload, err := sonic.Marshal(gin.H{"type": "system", "message": "connected to gestore gateway"}); err == nil {
		_ = cl.send(payload)
	}
	// A share arrived while no window was open; steer this one to the app
	// root so the pending capture gets picked up.
	if openPending {
		if payload, err := sonic.Marshal(gin.H{"type": "open", "path": "/"}); err == nil {
			_ = cl.send(payload)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.mu.Lock()
		handler := h.onMessage
		h.mu.Unlock()
		if handler != nil {
			handler(cl.id, data)
		}
	}

	h.logger.Info("window disconnected", zap.String("window", string(cl.id)))
}

// Broadcast sends a payload to every connected window.
func (h *Hub) Broadcast(v any) {
	payload, err := sonic.Marshal(v)
	if err != nil {
		h.logger.Error("broadcast encode failed", zap.Error(err))
		return
	}

	for _, cl := range h.snapshot() {
		if err := cl.send(payload); err != nil {
			h.logger.Warn("broadcast send failed",
				zap.String("window", string(cl.id)),
				zap.Error(err),
			)
		}
	}
}

// FocusAny asks one connected window to bring itself to the foreground.
// Returns false when no window is connected.
func (h *Hub) FocusAny() bool {
	clients := h.snapshot()
	if len(clients) == 0 {
		return false
	}
	payload, err := sonic.Marshal(gin.H{"type": "focus"})
	if err != nil {
		return false
	}
	return clients[0].send(payload) == nil
}

// RequestOpen records that the next connecting window should navigate to the
// app root. Used when a share arrives with no window open.
func (h *Hub) RequestOpen() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingOpen = true
}

// ClientCount returns the number of connected windows.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(cl *client) (openPending bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients = append(h.clients, cl)
	openPending = h.pendingOpen
	h.pendingOpen = false
	if h.metrics != nil {
		h.metrics.WindowsConnected.Set(float64(len(h.clients)))
	}
	return openPending
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, existing := range h.clients {
		if existing == cl {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			break
		}
	}
	if h.metrics != nil {
		h.metrics.WindowsConnected.Set(float64(len(h.clients)))
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, len(h.clients))
	copy(out, h.clients)
	return out
}
