package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SimplyPrint/card-gateway/internal/driver"
	"github.com/SimplyPrint/card-gateway/internal/gateway"
	"github.com/SimplyPrint/card-gateway/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local use
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`              // Message type
	ID      string          `json:"id,omitempty"`      // Request ID for request/response matching
	Payload json.RawMessage `json:"payload,omitempty"` // Message payload
	Error   string          `json:"error,omitempty"`   // Error message if any
}

// wsOperations maps message types to the card operation they run.
var wsOperations = map[string]driver.Kind{
	"list_readers": driver.KindListReaders,
	"read_uid":     driver.KindReadUID,
	"lite_info":    driver.KindLiteInfo,
	"apdu":         driver.KindRawAPDU,
	"type4_info":   driver.KindType4Info,
	"type4_read":   driver.KindType4Read,
	"type4_write":  driver.KindType4Write,
}

// WSClient represents a connected WebSocket client. Each client is one
// gateway session with its own transaction log.
type WSClient struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	hub     *WSHub
	server  *Server
	session *gateway.Session

	// ctx ends when the client goes away, killing its in-flight drivers.
	ctx    context.Context
	cancel context.CancelFunc
}

func newWSClient(conn *websocket.Conn, s *Server) *WSClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSClient{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		hub:     s.hub,
		server:  s,
		session: gateway.NewSession(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// close ends the client. send is never closed, so late operation results
// cannot panic; they are dropped once done is closed.
func (c *WSClient) close() {
	c.once.Do(func() {
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// enqueue waits for buffer space unless the client is gone.
func (c *WSClient) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	}
}

// offer never blocks; a client that cannot keep up misses the message.
func (c *WSClient) offer(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// WSHub manages all WebSocket connections
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	stopped    chan struct{}
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		stopped:    make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx ends, closing every client.
func (h *WSHub) Run(ctx context.Context) {
	// Re-panic after logging since hub crash is fatal
	defer logging.RecoverAndLog("WebSocket hub", true)
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if !client.offer(message) {
					logging.Warn(logging.CatWebSocket, "Dropped broadcast for slow client", nil)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to every connected client. It is a no-op once the
// hub has stopped.
func (h *WSHub) Broadcast(msgType string, payload any) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		logging.Error(logging.CatWebSocket, "Failed to encode broadcast", map[string]any{
			"type":  msgType,
			"error": err.Error(),
		})
		return
	}
	msg, _ := json.Marshal(WSMessage{Type: msgType, Payload: payloadBytes})
	select {
	case h.broadcast <- msg:
	case <-h.stopped:
	}
}

func (h *WSHub) add(c *WSClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *WSHub) remove(c *WSClient) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HistoryNotifier returns a hook that pushes the current history to every
// client. It is meant for gateway.Options.OnHistoryChange.
func HistoryNotifier(h *WSHub, history *gateway.HistoryStore) func() {
	return func() {
		h.Broadcast("history_updated", map[string]any{
			"history": history.List(),
		})
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error(logging.CatWebSocket, "WebSocket upgrade failed", map[string]any{
			"error":      err.Error(),
			"remoteAddr": r.RemoteAddr,
		})
		return
	}

	client := newWSClient(conn, s)
	if !s.hub.add(client) {
		conn.Close()
		return
	}

	logging.Info(logging.CatWebSocket, "Client connected", map[string]any{
		"remoteAddr": r.RemoteAddr,
		"session":    client.session.ID,
	})

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket readPump", false)
	defer func() {
		c.close()
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn(logging.CatWebSocket, "WebSocket unexpected close", map[string]any{
					"error": err.Error(),
				})
			} else {
				logging.Debug(logging.CatWebSocket, "Client disconnected", map[string]any{
					"session": c.session.ID,
				})
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", "invalid message format")
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket writePump", false)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(msg WSMessage) {
	logging.Debug(logging.CatWebSocket, "Received message", map[string]any{
		"type": msg.Type,
		"id":   msg.ID,
	})

	if kind, ok := wsOperations[msg.Type]; ok {
		p, err := decodeParams(msg.Payload)
		if err != nil {
			c.sendError(msg.ID, "invalid payload: "+err.Error())
			return
		}
		go c.runOperation(msg.ID, msg.Type, buildRequest(kind, p))
		return
	}

	switch msg.Type {
	case "history":
		c.sendResponse(msg.ID, msg.Type, map[string]any{
			"history": c.server.dispatcher.History().List(),
		})
	case "clear_history":
		c.server.dispatcher.ClearHistory()
		c.sendResponse(msg.ID, msg.Type, map[string]any{
			"success": true,
			"message": "History cleared",
		})
	case "get_log":
		c.sendResponse(msg.ID, msg.Type, map[string]any{
			"entries":  c.session.Log().Entries(),
			"capacity": gateway.TransactionLogCapacity,
		})
	case "clear_log":
		c.session.Log().Clear()
		c.sendResponse(msg.ID, msg.Type, map[string]any{
			"success": true,
			"message": "Log cleared",
		})
	case "session_state":
		c.sendResponse(msg.ID, msg.Type, map[string]any{
			"session": c.session.ID,
			"kinds":   c.session.Snapshot(),
		})
	case "version":
		c.sendResponse(msg.ID, msg.Type, VersionInfo())
	case "health":
		go func() {
			defer logging.RecoverAndLog("WebSocket health", false)
			c.sendResponse(msg.ID, msg.Type, c.server.health(c.ctx))
		}()
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// runOperation runs one card operation under the session's per-kind guard and
// answers with the result document. Failures also set the envelope's error.
func (c *WSClient) runOperation(id, msgType string, req driver.Request) {
	defer logging.RecoverAndLog("WebSocket operation "+msgType, false)

	res := c.session.Run(c.ctx, c.server.dispatcher, req)
	payload, err := json.Marshal(res)
	if err != nil {
		c.sendError(id, "failed to encode result: "+err.Error())
		return
	}
	response := WSMessage{Type: msgType, ID: id, Payload: payload}
	if !res.Success {
		response.Error = res.Message
	}
	responseBytes, _ := json.Marshal(response)
	c.enqueue(responseBytes)
}

func (c *WSClient) sendResponse(id string, msgType string, payload any) {
	payloadBytes, _ := json.Marshal(payload)
	response := WSMessage{
		Type:    msgType,
		ID:      id,
		Payload: payloadBytes,
	}
	responseBytes, _ := json.Marshal(response)
	c.enqueue(responseBytes)
}

func (c *WSClient) sendError(id string, errMsg string) {
	response := WSMessage{
		Type:  "error",
		ID:    id,
		Error: errMsg,
	}
	responseBytes, _ := json.Marshal(response)
	c.enqueue(responseBytes)
}
