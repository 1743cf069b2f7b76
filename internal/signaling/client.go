// Package signaling is the client side of the relay socket.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/roulette-signaling/internal/clock"
	"github.com/mossy-p/roulette-signaling/internal/models"
	"github.com/mossy-p/roulette-signaling/internal/retry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// DefaultKeepalive is how often an application ping is sent so the
	// server's idle reaper sees activity during a quiet call.
	DefaultKeepalive = 30 * time.Second
)

var (
	// ErrUnreachable is returned by Dial when every attempt failed.
	ErrUnreachable = errors.New("signaling server unreachable")

	// ErrClosed is returned by Send after Close or a dropped socket.
	ErrClosed = errors.New("signaling connection closed")

	// ErrRejected is returned by Dial when the server refuses the
	// handshake, for example because of an invalid token. It is not
	// retried.
	ErrRejected = errors.New("signaling server rejected the connection")
)

// Options configures Dial
type Options struct {
	Policy    retry.Policy
	Keepalive time.Duration
	Clock     clock.Clock
	Logger    *slog.Logger
	Dialer    *websocket.Dialer
}

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	conn      *websocket.Conn
	id        string
	logger    *slog.Logger
	keepalive time.Duration

	incoming  chan models.SignalMessage
	outgoing  chan models.SignalMessage
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to url, retrying with opts.Policy (retry.Transport by
// default), and waits for the server's welcome.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.Transport
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	var client *Client
	err := opts.Policy.Do(ctx, opts.Clock, func(int) error {
		c, err := connect(ctx, url, opts)
		if err != nil {
			return err
		}
		client = c
		return nil
	}, func(attempt int, err error) {
		opts.Logger.Warn("signaling connect failed", "attempt", attempt+1, "error", err)
	})

	var rejected *rejectedError
	switch {
	case err == nil:
		return client, nil
	case errors.As(err, &rejected):
		return nil, fmt.Errorf("%w: %s", ErrRejected, rejected.status)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
}

type rejectedError struct {
	status string
}

func (e *rejectedError) Error() string { return "handshake rejected: " + e.status }

func connect(ctx context.Context, url string, opts Options) (*Client, error) {
	conn, resp, err := opts.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, retry.Permanent(&rejectedError{status: resp.Status})
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)

	// The first frame is always the welcome with our connection id.
	conn.SetReadDeadline(time.Now().Add(writeWait))
	var welcome models.SignalMessage
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("waiting for welcome: %w", err)
	}
	var payload models.WelcomePayload
	if welcome.Type != models.SignalTypeWelcome || welcome.Decode(&payload) != nil || payload.ConnectionID == "" {
		conn.Close()
		return nil, fmt.Errorf("unexpected first message %q", welcome.Type)
	}

	c := &Client{
		conn:      conn,
		id:        payload.ConnectionID,
		logger:    opts.Logger.With("conn", payload.ConnectionID),
		keepalive: opts.Keepalive,
		incoming:  make(chan models.SignalMessage, 64),
		outgoing:  make(chan models.SignalMessage, 64),
		done:      make(chan struct{}),
	}

	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.wg.Add(2)
	go c.readPump()
	go c.writePump()

	c.logger.Info("connected to signaling server")
	return c, nil
}

// ID returns the connection id the server assigned.
func (c *Client) ID() string {
	return c.id
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.Close()
		close(c.incoming)
		c.wg.Done()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg models.SignalMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("signaling connection lost", "error", err)
			}
			return
		}
		if msg.Type == models.SignalTypePong {
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	keepalive := time.NewTicker(c.keepalive)

	defer func() {
		ticker.Stop()
		keepalive.Stop()
		c.conn.Close()
		c.wg.Done()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Warn("failed to write message", "type", message.Type, "error", err)
				return
			}

		case <-keepalive.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(models.SignalMessage{Type: models.SignalTypePing}); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues a message for the server.
func (c *Client) Send(msg models.SignalMessage) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns the channel for receiving messages. It is closed when
// the connection ends.
func (c *Client) Incoming() <-chan models.SignalMessage {
	return c.incoming
}

// Done is closed once the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// Wait blocks until both pumps have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}
