package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/judgeflow/backend/internal/logger"
	"github.com/judgeflow/backend/internal/notify"

	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBufferSize = 64
)

// Client is one WebSocket connection belonging to an authenticated user
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// Hub tracks connections per user and delivers user events to them
type Hub struct {
	// Registered clients, grouped by user
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Redis client for the event subscription; nil for single-process use
	redisClient *redis.Client

	mu     sync.RWMutex
	logger *zap.SugaredLogger
}

// ClientMessage is what a browser receives for each event
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewHub creates a new WebSocket hub. With a non-nil redisClient, Run also
// relays events published by other processes.
func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		clients:     make(map[string]map[*Client]bool),
		redisClient: redisClient,
		logger:      logger.NewNamedLogger("hub"),
	}
}

// Run starts the WebSocket hub
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer close(h.done)

	var events <-chan *redis.Message
	if h.redisClient != nil {
		pubsub := h.redisClient.Subscribe(ctx, notify.Channel)
		defer pubsub.Close()
		events = pubsub.Channel()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			h.mu.Unlock()
			h.logger.Debugf("Client connected for user %s (total: %d)", client.userID, h.GetClientCount())

		case client := <-h.unregister:
			h.removeClient(client)
			h.logger.Debugf("Client disconnected for user %s (total: %d)", client.userID, h.GetClientCount())

		case msg, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			var event notify.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Warnf("Dropping malformed event: %v", err)
				continue
			}
			h.Deliver(event)

		case <-ctx.Done():
			h.logger.Info("WebSocket hub shutting down")
			h.closeAll()
			return
		}
	}
}

// Deliver writes an event to every connection of its user. Slow clients
// whose buffer is full miss the event.
func (h *Hub) Deliver(event notify.Event) int {
	message, err := json.Marshal(ClientMessage{Event: event.Name, Payload: event.Payload})
	if err != nil {
		h.logger.Errorf("Failed to marshal client message: %v", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients[event.UserID] {
		select {
		case client.send <- message:
			delivered++
		default:
			h.logger.Warnf("Send buffer full for user %s, dropping %s", event.UserID, event.Name)
		}
	}
	return delivered
}

// EmitToUser delivers directly to local connections. It lets a single
// process run without Redis pub/sub.
func (h *Hub) EmitToUser(_ context.Context, userID, event string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	h.Deliver(notify.Event{UserID: userID, Name: event, Payload: body})
	return nil
}

// addClient hands a client to Run. It reports false once the hub has stopped.
func (h *Hub) addClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) dropClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[client.userID]
	if !ok || !conns[client] {
		return
	}
	delete(conns, client)
	close(client.send)
	if len(conns) == 0 {
		delete(h.clients, client.userID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, conns := range h.clients {
		for client := range conns {
			close(client.send)
		}
		delete(h.clients, userID)
	}
}

// GetClientCount returns the current number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}

// readPump drains the connection until it closes. Clients are not expected
// to send anything.
func (c *Client) readPump() {
	defer func() {
		c.hub.dropClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnf("WebSocket unexpected close: %v", err)
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ServeWS registers an authenticated connection and blocks until it closes
func ServeWS(hub *Hub, conn *websocket.Conn, userID string) {
	client := &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}

	if !hub.addClient(client) {
		conn.Close()
		return
	}

	go client.writePump()

	client.readPump()
}
