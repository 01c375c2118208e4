package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/siddharth-mourya/powerlytic-be/internal/domain"
	"github.com/siddharth-mourya/powerlytic-be/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings with this period; must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size; clients only listen
	maxMessageSize = 512

	// Outbound buffer per client before it is considered too slow
	clientSendBuffer = 64
)

// liveBatch is the message broadcast to stream clients for each stored
// payload.
type liveBatch struct {
	Type     string               `json:"type"`
	DeviceID string               `json:"deviceId"`
	Records  []domain.Measurement `json:"records"`
}

// Hub maintains the set of connected stream clients and fans stored
// batches out to them.
type Hub struct {
	clients    map[*streamClient]bool
	broadcast  chan []byte
	register   chan *streamClient
	unregister chan *streamClient
	logger     zerolog.Logger
	metrics    *metrics.Registry
}

// NewHub creates a live-stream hub. Run must be started on its own
// goroutine before clients connect.
func NewHub(logger zerolog.Logger, m *metrics.Registry) *Hub {
	return &Hub{
		clients:    make(map[*streamClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		logger:     logger.With().Str("component", "live-stream").Logger(),
		metrics:    m,
	}
}

// Run owns the client set; all membership changes go through the
// channels so no lock is needed.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.metrics.UpdateStreamClients(len(h.clients))
			h.logger.Debug().Str("remote", client.conn.RemoteAddr().String()).Msg("Stream client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.UpdateStreamClients(len(h.clients))
				h.logger.Debug().Str("remote", client.conn.RemoteAddr().String()).Msg("Stream client disconnected")
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it rather than stall the hub
					delete(h.clients, client)
					close(client.send)
					h.metrics.UpdateStreamClients(len(h.clients))
				}
			}
			h.metrics.RecordBroadcast()
		}
	}
}

// BroadcastBatch publishes one stored batch to all connected clients.
// Empty batches are not broadcast.
func (h *Hub) BroadcastBatch(deviceID string, records []domain.Measurement) {
	if len(records) == 0 {
		return
	}
	data, err := json.Marshal(liveBatch{Type: "measurements", DeviceID: deviceID, Records: records})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal live batch")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Msg("Broadcast channel full, dropping batch")
	}
}

// streamClient is the middleman between one websocket connection and
// the hub.
type streamClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump drains inbound frames so pongs are processed and close
// frames detected. Clients are listen-only.
func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister <- c
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
				c.hub.logger.Debug().Err(err).Msg("Stream read error")
			}
			return
		}
	}
}

// writePump pumps hub messages to the websocket connection.
func (c *streamClient) writePump() {
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

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement happens in the CORS middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and attaches the client to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}
	client := &streamClient{hub: h, conn: conn, send: make(chan []byte, clientSendBuffer)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}
