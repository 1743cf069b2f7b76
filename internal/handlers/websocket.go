package handlers

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/roulette-signaling/internal/matchmaking"
	"github.com/mossy-p/roulette-signaling/internal/middleware"
	"github.com/mossy-p/roulette-signaling/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// SDP blobs with many candidates run to tens of kilobytes.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)


// SignalingHandler upgrades /ws/signal requests and feeds every inbound
// message into the shared matchmaking state.
type SignalingHandler struct {
	state    *matchmaking.State
	upgrader websocket.Upgrader
	logger   *slog.Logger

	wg sync.WaitGroup
}

func NewSignalingHandler(state *matchmaking.State, origins Origins, logger *slog.Logger) *SignalingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalingHandler{
		state: state,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		logger: logger,
	}
}

// Client represents a WebSocket client connection. It is the
// matchmaking.Sink for its connection id.
type Client struct {
	ID   string
	Conn *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// HandleSignaling handles WebSocket connections for WebRTC signaling
func (h *SignalingHandler) HandleSignaling(c *gin.Context) {
	conn := identify(c)

	// Upgrade HTTP connection to WebSocket
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		ID:     conn.ID,
		Conn:   ws,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: h.logger.With("conn", conn.ID),
	}

	if err := h.state.Register(conn, client); err != nil {
		h.logger.Error("failed to register connection", "conn", conn.ID, "error", err)
		ws.Close()
		return
	}

	client.logger.Info("peer connected", "user", conn.UserID, "premium", conn.Premium)

	// Send the connection id before anything else can be queued
	welcome, _ := models.NewSignalMessage(models.SignalTypeWelcome, "", models.WelcomePayload{ConnectionID: conn.ID})
	client.Send(welcome)

	// Start goroutines for reading and writing
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(client)
	}()
}

// Wait blocks until every pump started by the handler has returned.
func (h *SignalingHandler) Wait() {
	h.wg.Wait()
}

// identify builds the registry entry for a new socket from the JWT
// claims, or an anonymous identity when there are none.
func identify(c *gin.Context) matchmaking.Connection {
	conn := matchmaking.Connection{
		ID:           uuid.New().String(),
		DisplayName:  c.Query("displayName"),
		GenderFilter: matchmaking.FilterAny,
	}
	if claims, ok := middleware.ClaimsFrom(c); ok {
		conn.UserID = claims.UserID
		conn.Premium = claims.Premium
		conn.Gender = matchmaking.Gender(claims.Gender)
		if conn.DisplayName == "" {
			conn.DisplayName = claims.Name
		}
		return conn
	}
	conn.UserID = "anon-" + uuid.New().String()
	return conn
}

func (h *SignalingHandler) readPump(c *Client) {
	defer func() {
		h.state.Unregister(c.ID)
		c.Close()
		c.logger.Info("peer disconnected")
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", "error", err)
			}
			return
		}

		// Parse message
		var msg models.SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn("failed to parse message", "error", err)
			continue
		}

		h.dispatch(c, msg)
	}
}

// dispatch routes one inbound message. The sender is always the
// socket's own id, whatever the client put in from.
func (h *SignalingHandler) dispatch(c *Client, msg models.SignalMessage) {
	switch {
	case msg.Type == models.SignalTypeFindMatch:
		var p models.FindMatchPayload
		if len(msg.Payload) > 0 {
			if err := msg.Decode(&p); err != nil {
				c.logger.Warn("malformed find-match payload", "error", err)
			}
		}
		h.state.Search(c.ID, matchmaking.ParseGenderFilter(p.GenderFilter))

	case msg.Type == models.SignalTypeCancelSearch:
		h.state.CancelSearch(c.ID)

	case msg.Type == models.SignalTypeSkip:
		h.state.Skip(c.ID)

	case msg.Type == models.SignalTypePing:
		h.state.Ping(c.ID)

	case msg.Type == models.SignalTypeSendMessage:
		var p models.ChatPayload
		if err := msg.Decode(&p); err != nil {
			c.logger.Warn("malformed chat payload", "error", err)
			h.state.Touch(c.ID)
			return
		}
		if p.TargetID == "" {
			p.TargetID = msg.To
		}
		h.state.Chat(c.ID, p)

	case msg.Type.IsRelayed():
		to := msg.To
		if to == "" && msg.Type == models.SignalTypeStayConnected {
			var p models.StayConnectedPayload
			if err := msg.Decode(&p); err == nil {
				to = p.TargetID
			}
		}
		h.state.Relay(msg.Type, msg.Payload, c.ID, to)

	default:
		c.logger.Warn("unknown message type", "type", msg.Type)
		h.state.Touch(c.ID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues msg for the write pump without blocking.
func (c *Client) Send(msg models.SignalMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, dropping message", "type", msg.Type)
		return false
	}
}

// Close stops the write pump, which closes the socket. Safe to call
// more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
