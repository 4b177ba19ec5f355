package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dormledger/auth-service/internal/observability"
	"github.com/dormledger/auth-service/internal/service"
)

const maxMessageSize = 4 * 1024

// HubConfig tunes connection keepalive and buffering.
type HubConfig struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	SendBuffer int
}

func (c HubConfig) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// client is one open channel. A user may hold several, one per device or tab.
type client struct {
	userID    string
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub tracks open realtime channels per user. Messages to users with no open
// channel are dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	cfg     HubConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig, logger *zap.Logger, metrics *observability.Metrics) *Hub {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		cfg:     cfg,
		logger:  logger.Named("realtime"),
		metrics: metrics,
	}
}

var _ service.Publisher = (*Hub)(nil)

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.metrics.RealtimeConnected()
}

// unregister removes c and closes its send queue. The close happens under the
// write lock so no broadcaster can be sending on it.
func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) bool {
	set, ok := h.clients[c.userID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	c.closeSend()
	h.metrics.RealtimeDisconnected()
	return true
}

// Broadcast pushes msg to every open channel of the user and returns how many
// accepted it. Channels whose queue is full are skipped.
func (h *Hub) Broadcast(userID string, msg service.Message) int {
	return h.deliver(msg, func(c *client) bool { return c.userID == userID }, userID)
}

// SendToSession pushes msg only to the channels opened by one session.
func (h *Hub) SendToSession(userID, sessionID string, msg service.Message) int {
	return h.deliver(msg, func(c *client) bool { return c.sessionID == sessionID }, userID)
}

// BroadcastAll pushes msg to every open channel.
func (h *Hub) BroadcastAll(msg service.Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode realtime message", zap.String("type", msg.Type), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, set := range h.clients {
		for c := range set {
			if h.enqueue(c, msg.Type, data) {
				delivered++
			}
		}
	}
	return delivered
}

func (h *Hub) deliver(msg service.Message, match func(*client) bool, userID string) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode realtime message", zap.String("type", msg.Type), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for c := range h.clients[userID] {
		if match(c) && h.enqueue(c, msg.Type, data) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) enqueue(c *client, msgType string, data []byte) bool {
	select {
	case c.send <- data:
		h.metrics.RecordRealtimeMessage(msgType, "queued")
		return true
	default:
		h.metrics.RecordRealtimeMessage(msgType, "dropped")
		h.logger.Warn("realtime client too slow, message dropped",
			zap.String("user_id", c.userID),
			zap.String("type", msgType))
		return false
	}
}

// DisconnectUser closes every channel of the user. Messages already queued
// are written before the close frame.
func (h *Hub) DisconnectUser(userID string) int {
	return h.disconnect(userID, func(*client) bool { return true })
}

// DisconnectSession closes the channels opened by one session.
func (h *Hub) DisconnectSession(userID, sessionID string) int {
	return h.disconnect(userID, func(c *client) bool { return c.sessionID == sessionID })
}

func (h *Hub) disconnect(userID string, match func(*client) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	closed := 0
	for c := range h.clients[userID] {
		if match(c) && h.removeLocked(c) {
			closed++
		}
	}
	return closed
}

// Connections reports how many channels the user has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
}

// serve registers the connection and runs its pumps; it blocks until the
// connection ends.
func (h *Hub) serve(conn *websocket.Conn, userID, sessionID string) {
	c := &client{
		userID:    userID,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, h.cfg.SendBuffer),
	}
	h.register(c)
	h.logger.Debug("realtime client connected", zap.String("user_id", userID), zap.String("session_id", sessionID))

	go h.writePump(c)
	h.readPump(c)
}

// readPump only services control frames; clients send nothing meaningful.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.logger.Debug("realtime client disconnected", zap.String("user_id", c.userID))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
