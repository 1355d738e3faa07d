package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"school-quiz/pkg/events"
)

// Message represents the standard message format exchanged over WebSocket.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced on the HTTP routes; the feed is behind admin auth.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans attempt events out to admins watching an exam. Rooms are keyed
// by exam id.
type Hub struct {
	rooms      map[uint]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	// done is closed when Run returns; membership sends give up after that.
	done chan struct{}
	mu   sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	examID uint
}

func NewClient(hub *Hub, conn *websocket.Conn, examID uint) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		examID: examID,
	}
}

// Viewers reports how many clients watch examID.
func (h *Hub) Viewers(examID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[examID])
}

func (h *Hub) BroadcastToRoom(examID uint, message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[examID]))
	for c := range h.rooms[examID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.queue(c, message)
	}
}

func (h *Hub) queue(c *Client, message []byte) {
	// the client may have been unregistered since the room was copied
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic while sending message to client %p: %v", c, r)
		}
	}()
	select {
	case c.send <- message:
	default:
		log.Printf("Send channel full for client %p; unregistering client", c)
		go h.leave(c)
	}
}

// BroadcastMessage marshals the message and then broadcasts it.
func (h *Hub) BroadcastMessage(examID uint, messageType string, data interface{}) {
	messageBytes, err := json.Marshal(Message{Type: messageType, Data: data})
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}
	h.BroadcastToRoom(examID, messageBytes)
}

// Notify forwards an attempt event to the exam's room.
func (h *Hub) Notify(_ context.Context, ev events.AttemptEvent) {
	h.BroadcastMessage(ev.ExamID, string(ev.Type), ev)
}

// join hands c to Run. It reports false once the hub has shut down.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Run owns room membership; it returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, exists := h.rooms[client.examID]; !exists {
				h.rooms[client.examID] = make(map[*Client]bool)
			}
			h.rooms[client.examID][client] = true
			count := len(h.rooms[client.examID])
			h.mu.Unlock()
			log.Printf("Client %p watching exam %d. Viewers: %d", client, client.examID, count)
			h.BroadcastMessage(client.examID, "viewer_update", map[string]interface{}{"count": count})

		case client := <-h.unregister:
			h.mu.Lock()
			room := h.rooms[client.examID]
			if _, ok := room[client]; !ok {
				h.mu.Unlock()
				continue
			}
			delete(room, client)
			close(client.send)
			count := len(room)
			if count == 0 {
				delete(h.rooms, client.examID)
			}
			h.mu.Unlock()
			log.Printf("Client %p left exam %d. Viewers: %d", client, client.examID, count)
			h.BroadcastMessage(client.examID, "viewer_update", map[string]interface{}{"count": count})

		case <-ctx.Done():
			h.mu.Lock()
			for _, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
			}
			h.rooms = make(map[uint]map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

// HandleWebSocket upgrades the HTTP connection to a WebSocket and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseUint(mux.Vars(r)["examID"], 10, 64)
	if err != nil || examID == 0 {
		http.Error(w, "Invalid exam id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := NewClient(h, conn, uint(examID))
	if !h.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only drains control frames; admins do not send commands.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Unexpected close: %v", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Error writing message to client %p: %v", c, err)
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
