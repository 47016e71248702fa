package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // API key middleware guards the route
	},
}

type message struct {
	identityID string
	data       []byte
}

// Client is one connected dashboard. identityID optionally narrows the feed.
type Client struct {
	conn       *websocket.Conn
	send       chan []byte
	identityID string
}

// Hub fans authentication events out to WebSocket clients.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run owns the client set until ctx ends. Call this in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "identity_filter", c.identityID)

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.identityID != "" && c.identityID != msg.identityID {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// slow consumer
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	observability.WSConnections.Dec()
	slog.Debug("ws client disconnected")
}

// BroadcastAuthEvent queues ev for every interested client. It has the shape
// of a queue.EventHandler so the hub can consume the AUTH stream directly.
func (h *Hub) BroadcastAuthEvent(ctx context.Context, ev *models.AuthEvent) error {
	data, err := json.Marshal(dto.WSEvent{Type: "auth_event", Data: dto.NewAuthEventResponse(ev)})
	if err != nil {
		return err
	}
	msg := message{data: data}
	if ev.IdentityID != nil {
		msg.identityID = *ev.IdentityID
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleWS upgrades the request. ?identity_id= limits the feed to one identity.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:       conn,
		send:       make(chan []byte, 64),
		identityID: c.Query("identity_id"),
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump only detects disconnection; clients send nothing.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
