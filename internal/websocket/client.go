package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bumplink/internal/domain"
	"bumplink/internal/observability"
	"bumplink/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 4096

	coordinatorTimeout = 5 * time.Second
)

// ExchangeCoordinator reacts to envelopes announced by a connected
// exchange client.
type ExchangeCoordinator interface {
	HandleHello(ctx context.Context, sessionID string, profile domain.PeerProfile) error
	HandleReady(ctx context.Context, sessionID string) error
	HandleDisconnect(sessionID string)
}

// Client is one device's connection to the matching service. The
// session ID is unknown until the hello envelope arrives; only then is
// the client registered with the hub.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	sessionID   string
	coordinator ExchangeCoordinator
	writeMu     sync.Mutex
	closed      atomic.Bool
	ctx         context.Context
	ctxCancel   context.CancelFunc
}

func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, coordinator ExchangeCoordinator) *Client {
	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		coordinator: coordinator,
		ctx:         clientCtx,
		ctxCancel:   cancel,
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.ctxCancel()
		if c.sessionID != "" {
			c.hub.Unregister(c)
			c.coordinator.HandleDisconnect(c.sessionID)
		}
		c.closeConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline",
			slog.String("error", err.Error()),
			slog.String("session_id", c.sessionID))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			slog.Warn("failed to set read deadline in pong handler",
				slog.String("error", err.Error()),
				slog.String("session_id", c.sessionID))
			return err
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error",
					slog.String("error", err.Error()),
					slog.String("session_id", c.sessionID))
			}
			break
		}

		env, err := protocol.ParseClientEnvelope(message)
		if err != nil {
			observability.ProtocolViolations.WithLabelValues("malformed_client_envelope").Inc()
			slog.Warn("dropping malformed envelope",
				slog.String("error", err.Error()),
				slog.String("session_id", c.sessionID))
			continue
		}

		switch env.Type {
		case protocol.TypeHello:
			c.handleHello(env)
		case protocol.TypeReady:
			c.handleReady(env)
		}
	}
}

// handleHello announces the session to the coordinator and, on
// success, registers the connection with the hub under that session.
func (c *Client) handleHello(env *protocol.ClientEnvelope) {
	if c.sessionID != "" {
		observability.ProtocolViolations.WithLabelValues("repeated_hello").Inc()
		slog.Warn("dropping repeated hello",
			slog.String("session_id", c.sessionID),
			slog.String("announced", env.SessionID))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, coordinatorTimeout)
	defer cancel()

	if err := c.coordinator.HandleHello(ctx, env.SessionID, *env.Profile); err != nil {
		slog.Error("hello rejected",
			slog.String("error", err.Error()),
			slog.String("session_id", env.SessionID))
		c.sendError("hello rejected")
		return
	}

	c.sessionID = env.SessionID
	c.hub.Register(c)
}

// handleReady forwards a bump signal for the session announced by the
// preceding hello. A ready for any other session is a protocol
// violation and is dropped.
func (c *Client) handleReady(env *protocol.ClientEnvelope) {
	if c.sessionID == "" {
		observability.ProtocolViolations.WithLabelValues("ready_before_hello").Inc()
		slog.Warn("dropping ready before hello",
			slog.String("announced", env.SessionID))
		return
	}
	if env.SessionID != c.sessionID {
		observability.ProtocolViolations.WithLabelValues("session_mismatch").Inc()
		slog.Warn("dropping ready for foreign session",
			slog.String("session_id", c.sessionID),
			slog.String("announced", env.SessionID))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, coordinatorTimeout)
	defer cancel()

	if err := c.coordinator.HandleReady(ctx, c.sessionID); err != nil {
		slog.Error("error handling ready signal",
			slog.String("error", err.Error()),
			slog.String("session_id", c.sessionID))
		c.sendError("ready rejected")
	}
}

// sendError queues an error envelope for the client. Dropped when the
// send buffer is full; the write pump owns buffer pressure handling.
func (c *Client) sendError(message string) {
	env := protocol.ServerEnvelope{
		Type:    protocol.TypeError,
		Message: message,
	}
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("failed to marshal error envelope",
			slog.String("error", err.Error()))
		return
	}

	select {
	case c.send <- data:
	default:
		slog.Warn("send buffer full, dropping error envelope",
			slog.String("session_id", c.sessionID))
	}
}

// WritePump pumps frames from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				_ = c.writeMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage writes a message to the WebSocket connection in a thread-safe manner
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("failed to set write deadline",
			slog.String("error", err.Error()),
			slog.String("session_id", c.sessionID))
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// closeConnection safely closes the WebSocket connection
func (c *Client) closeConnection() {
	if c.closed.CompareAndSwap(false, true) {
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}
}
