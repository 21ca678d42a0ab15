package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/config"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/logging"
	"github.com/nerrad567/medtwin-core/internal/notify"
)

// WebSocket message types.
const (
	WSTypeNotification = "notification"
	WSTypePing         = "ping"
	WSTypePong         = "pong"
	WSTypeError        = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 64
)

// ErrOperatorOffline is returned by SendMessage when the operator has no
// connected client, or every client's buffer is full.
var ErrOperatorOffline = errors.New("api: operator not connected")

// WSMessage is a message sent to or from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// NotificationPayload is the payload of a notification message.
type NotificationPayload struct {
	OperatorID string `json:"operatorId"`
	Text       string `json:"text"`
}

// Hub tracks WebSocket clients per operator and delivers notifications
// to them. It implements notify.Transport.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[string]map[*WSClient]struct{}
	now     func() time.Time
}

var _ notify.Transport = (*Hub)(nil)

// WSClient is one connected operator session.
type WSClient struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	operatorID string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]map[*WSClient]struct{}),
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client under its operator id.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	set, ok := h.clients[client.operatorID]
	if !ok {
		set = make(map[*WSClient]struct{})
		h.clients[client.operatorID] = set
	}
	set[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "operator_id", client.operatorID, "clients", h.ClientCount())
}

// Unregister removes a client. Only the caller that removes it closes
// the send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	set := h.clients[client.operatorID]
	_, existed := set[client]
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.operatorID)
	}
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "operator_id", client.operatorID, "clients", h.ClientCount())
}

// SendMessage delivers text to every session of operatorID.
func (h *Hub) SendMessage(ctx context.Context, operatorID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeNotification,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Payload:   NotificationPayload{OperatorID: operatorID, Text: text},
	})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients[operatorID]))
	for c := range h.clients[operatorID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if c.trySend(data) {
			delivered++
		}
	}
	if delivered == 0 {
		return fmt.Errorf("%w: %s", ErrOperatorOffline, operatorID)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Connected reports whether operatorID has at least one session.
func (h *Hub) Connected(operatorID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[operatorID]) > 0
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for op, set := range h.clients {
		for client := range set {
			close(client.send)
			if client.conn != nil {
				client.conn.Close()
			}
		}
		delete(h.clients, op)
	}
}

// handleWebSocket upgrades the connection and registers it under the
// caller's operator id.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	op := principal(r).Operator()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:        s.hub,
		conn:       conn,
		send:       make(chan []byte, wsSendBufferSize),
		operatorID: op,
	}
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// wsTimings returns the ping period and pong deadline, defaulting to
// 30s and 10s.
func wsTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping = time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	pong = time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return ping, pong
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval, pongWait := wsTimings(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "operator_id", c.operatorID, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := wsTimings(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage answers application-level pings; operators only receive.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}
	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend queues data without blocking. It reports false for a full
// buffer or a client closed during delivery.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
