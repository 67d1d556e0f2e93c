package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/baeder-monitor/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// Hub pushes every published refresh cycle to connected dashboards
type Hub struct {
	upgrader       websocket.Upgrader
	board          *Board
	allowedOrigins []string
	version        string
	gauge          ClientGauge
	logger         zerolog.Logger

	mutex   sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// ClientInfo describes a connected dashboard
type ClientInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Client represents an active dashboard connection
type Client struct {
	ClientInfo

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// NewHub creates a hub that greets new clients with the board's readings
func NewHub(board *Board, version string, logger zerolog.Logger, allowedOrigins ...string) *Hub {
	h := &Hub{
		board:          board,
		allowedOrigins: allowedOrigins,
		version:        version,
		logger:         logger,
		clients:        make(map[string]*Client),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetGauge sets where the client count is reported.
func (h *Hub) SetGauge(g ClientGauge) {
	h.gauge = g
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}
	// a browser on the same host is always fine
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP handles WebSocket connection requests
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	c := &Client{
		ClientInfo: ClientInfo{
			ID:          uuid.New().String(),
			RemoteAddr:  conn.RemoteAddr().String(),
			ConnectedAt: time.Now(),
		},
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	hello, err := h.encode(models.MessageTypeHello, models.HelloMessage{
		ClientID: c.ID,
		Version:  h.version,
		Pools:    models.GroupByPool(h.board.catalog),
	})
	if err == nil {
		c.send <- hello
	}
	readings := h.board.Current()
	if msg, err := h.encode(models.MessageTypeReadings, models.NewReadingsMessage(readings)); err == nil {
		c.send <- msg
	}

	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *Client) bool {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return false
	}
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mutex.Unlock()

	h.reportClients(n)
	h.logger.Info().Str("client_id", c.ID).Str("remote", c.RemoteAddr).Msg("Dashboard connected")
	return true
}

// removeClient drops a client and closes its send queue
func (h *Hub) removeClient(c *Client) {
	h.mutex.Lock()
	_, existed := h.clients[c.ID]
	delete(h.clients, c.ID)
	n := len(h.clients)
	h.mutex.Unlock()

	c.closeOnce.Do(func() { close(c.send) })
	if existed {
		h.reportClients(n)
		h.logger.Info().Str("client_id", c.ID).Msg("Dashboard disconnected")
	}
}

func (h *Hub) reportClients(n int) {
	if h.gauge != nil {
		h.gauge.SetClients(n)
	}
}

// readPump discards client messages and keeps the read deadline fresh
func (h *Hub) readPump(c *Client) {
	defer h.removeClient(c)
	defer c.conn.Close()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("client_id", c.ID).Msg("WebSocket error")
			}
			return
		}
		// any frame from the client counts as liveness
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump is the only writer of c.conn
func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Warn().Err(err).Str("client_id", c.ID).Msg("Failed to send message")
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

// Broadcast sends readings to every client. A client whose queue is full
// is disconnected rather than slowing the others down.
func (h *Hub) Broadcast(readings []models.DisplayReading) {
	msg, err := h.encode(models.MessageTypeReadings, models.NewReadingsMessage(readings))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode readings")
		return
	}

	var slow []*Client
	h.mutex.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mutex.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("client_id", c.ID).Msg("Client too slow, disconnecting")
		h.removeClient(c)
	}
}

func (h *Hub) encode(t models.MessageType, payload any) ([]byte, error) {
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Clients returns the currently connected dashboards
func (h *Hub) Clients() []ClientInfo {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	out := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c.ClientInfo)
	}
	return out
}

// ClientCount returns the number of connected dashboards
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mutex.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mutex.Unlock()

	for _, c := range clients {
		h.removeClient(c)
	}
}
