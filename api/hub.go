package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cdduran/percepsim/internal/slogging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// Send pings to peer with this period; must be less than pongWait
	pingPeriod = 30 * time.Second
	// Maximum inbound message size in bytes
	maxMessageSize = 4096
	// Per-client outbound queue depth
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The simulator is served to arbitrary classroom networks
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one live WebSocket connection owned by the hub.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	hub       *Hub
	alive     atomic.Bool
	closeOnce sync.Once
}

// Hub owns the transport side of the live-session layer: it upgrades
// connections, pumps frames, and delivers routed outbound messages to the
// right recipients. Registry bookkeeping and fan-out decisions live in the
// router.
type Hub struct {
	registry *SessionRegistry
	router   *BroadcastRouter

	mu      sync.RWMutex
	clients map[string]*Client

	// Invoked after the connect fan-out so the server can seed the new
	// client with recent recommendations; best-effort
	OnConnect func(sessionID string)
	// Invoked for recommendation submissions arriving over the socket
	OnRecommendation func(sessionID string, payload json.RawMessage)
}

// NewHub creates a hub over the shared registry and router.
func NewHub(registry *SessionRegistry, router *BroadcastRouter) *Hub {
	return &Hub{
		registry: registry,
		router:   router,
		clients:  make(map[string]*Client),
	}
}

// inboundFrame is the raw decoded client frame.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// HandleWS upgrades the request and runs the connection lifecycle.
func (h *Hub) HandleWS(c *gin.Context) {
	logger := slogging.Get()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection: %v", err)
		return
	}

	sessionID := uuid.New().String()
	userID := uuid.New().String()

	session, err := h.registry.Register(sessionID, userID, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		// Duplicate transport IDs mean the ID source is broken; give up on
		// this connection rather than corrupt the registry
		logger.Error("Refusing connection: %v", err)
		_ = conn.Close()
		return
	}

	client := &Client{
		ID:   sessionID,
		Conn: conn,
		Send: make(chan []byte, sendBufferSize),
		hub:  h,
	}
	client.alive.Store(true)

	h.mu.Lock()
	h.clients[sessionID] = client
	h.mu.Unlock()

	logger.Info("New connection from %s, session %s, total %d", c.ClientIP(), sessionID, h.registry.Count())

	h.Deliver(h.router.HandleConnect(session))

	if h.OnConnect != nil {
		go h.OnConnect(sessionID)
	}

	go client.writePump()
	go client.readPump()
}

// Deliver fans a routed outbound list out to its recipients. Each recipient's
// send is independent; a full queue drops that one message and never blocks
// the rest of the fan-out.
func (h *Hub) Deliver(outs []Outbound) {
	for _, out := range outs {
		data, err := json.Marshal(out.Message)
		if err != nil {
			slogging.Get().Error("Failed to marshal %s message: %v", out.Message.Event, err)
			continue
		}

		h.mu.RLock()
		switch out.Scope {
		case ScopeOrigin:
			if client, ok := h.clients[out.Origin]; ok {
				client.enqueue(data)
			}
		case ScopeOthers:
			for id, client := range h.clients {
				if id == out.Origin {
					continue
				}
				client.enqueue(data)
			}
		case ScopeAll:
			for _, client := range h.clients {
				client.enqueue(data)
			}
		}
		h.mu.RUnlock()
	}
}

// BroadcastAll sends one message to every connected client.
func (h *Hub) BroadcastAll(msg Envelope) {
	h.Deliver([]Outbound{{Scope: ScopeAll, Message: msg}})
}

// SendTo sends one message to a single session, if it is still connected.
func (h *Hub) SendTo(sessionID string, msg Envelope) {
	h.Deliver([]Outbound{{Scope: ScopeOrigin, Origin: sessionID, Message: msg}})
}

// Probe reports whether the hub still tracks a session's transport and
// whether that transport is believed alive. The reconciler uses it to detect
// ghost sessions.
func (h *Hub) Probe(sessionID string) (present, connected bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[sessionID]
	if !ok {
		return false, false
	}
	return true, client.alive.Load()
}

// DropConnection closes a session's transport without waiting for the read
// pump to notice. Used when the reconciler evicts a ghost.
func (h *Hub) DropConnection(sessionID string) {
	h.mu.Lock()
	client, ok := h.clients[sessionID]
	if ok {
		delete(h.clients, sessionID)
	}
	h.mu.Unlock()

	if ok {
		client.shutdown()
	}
}

// ConnectionCount returns the number of tracked transports.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown notifies every client and closes all transports.
func (h *Hub) Shutdown(message string) {
	h.BroadcastAll(Envelope{Event: EventServerShutdown, Data: ShutdownData{Message: message}})

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.shutdown()
	}
}

// disconnect tears down one client and announces the departure.
func (h *Hub) disconnect(client *Client, reason string) {
	h.mu.Lock()
	_, tracked := h.clients[client.ID]
	if tracked {
		delete(h.clients, client.ID)
	}
	h.mu.Unlock()

	client.shutdown()

	if tracked {
		h.Deliver(h.router.HandleDisconnect(client.ID, reason))
		slogging.Get().Info("Session %s disconnected: %s, remaining %d", client.ID, reason, h.registry.Count())
	}
}

func (c *Client) enqueue(data []byte) {
	select {
	case c.Send <- data:
		metricBroadcastsSent.Inc()
	default:
		metricBroadcastsDropped.Inc()
		slogging.Get().Warn("Send queue full for session %s, dropping message", c.ID)
	}
}

func (c *Client) shutdown() {
	c.alive.Store(false)
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// readPump pumps frames from the socket into the router.
func (c *Client) readPump() {
	logger := slogging.Get()

	defer func() {
		c.hub.disconnect(c, "transport closed")
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.hub.registry.Touch(c.ID)
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("Read error on session %s: %v", c.ID, err)
			}
			c.alive.Store(false)
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Debug("Dropping malformed frame from session %s: %v", c.ID, err)
			continue
		}
		if frame.Event == "" {
			continue
		}

		if frame.Event == EventRecommendation {
			c.hub.registry.Touch(c.ID)
			if c.hub.OnRecommendation != nil {
				// Persistence may block; keep it off the read loop
				go c.hub.OnRecommendation(c.ID, frame.Data)
			}
			continue
		}

		c.hub.Deliver(c.hub.router.Dispatch(InboundEvent{
			Kind:      frame.Event,
			SessionID: c.ID,
			Payload:   frame.Data,
		}))
	}
}

// writePump pumps queued messages to the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.alive.Store(false)
				return
			}

			// Drain whatever queued up while we were writing
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					c.alive.Store(false)
					return
				}
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.alive.Store(false)
				return
			}
		}
	}
}
