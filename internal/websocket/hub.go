package websocket

import (
	"context"
	"log/slog"

	"bumplink/internal/observability"
)

// delivery is a frame addressed to a single session, with a reply
// channel reporting whether it reached a live connection.
type delivery struct {
	sessionID string
	frameType string
	payload   []byte
	done      chan bool
}

// Hub routes service-originated frames to the connection that owns
// each session. A session has at most one live connection.
type Hub struct {
	// Live connections by session ID
	sessions map[string]*Client

	// Targeted delivery channel
	deliver chan *delivery

	// Register client
	register chan *Client

	// Unregister client
	unregister chan *Client

	// Shutdown signal
	done chan struct{}
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]*Client),
		deliver:    make(chan *delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			slog.Info("hub shutting down gracefully")
			return ctx.Err()

		case client := <-h.register:
			if prev, ok := h.sessions[client.sessionID]; ok && prev != client {
				// A reconnect supersedes the old connection
				h.closeClientSend(prev)
				observability.ChannelConnectionsActive.Dec()
				slog.Warn("replacing live connection",
					slog.String("session_id", client.sessionID))
			}
			h.sessions[client.sessionID] = client
			observability.ChannelConnectionsActive.Inc()
			slog.Info("session connected",
				slog.String("session_id", client.sessionID))

		case client := <-h.unregister:
			h.unregisterClient(client)

		case d := <-h.deliver:
			client, ok := h.sessions[d.sessionID]
			if !ok {
				d.done <- false
				continue
			}
			select {
			case client.send <- d.payload:
				observability.ChannelMessagesSent.WithLabelValues(d.frameType).Inc()
				d.done <- true
			default:
				// Client's send buffer is full, close connection
				h.closeClientSend(client)
				delete(h.sessions, d.sessionID)
				observability.ChannelConnectionsActive.Dec()
				d.done <- false
			}
		}
	}
}

// unregisterClient safely removes a client from the hub. A client that
// was already replaced by a reconnect is left alone.
func (h *Hub) unregisterClient(client *Client) {
	if current, ok := h.sessions[client.sessionID]; ok && current == client {
		delete(h.sessions, client.sessionID)
		h.closeClientSend(client)
		observability.ChannelConnectionsActive.Dec()
		slog.Info("session disconnected",
			slog.String("session_id", client.sessionID))
	}
}

// closeClientSend safely closes a client's send channel
func (h *Hub) closeClientSend(client *Client) {
	select {
	case <-client.send:
		// Channel already closed
	default:
		close(client.send)
	}
}

// shutdown performs graceful cleanup of all connections
func (h *Hub) shutdown() {
	close(h.done)

	for sessionID, client := range h.sessions {
		h.closeClientSend(client)
		slog.Info("closed session connection",
			slog.String("session_id", sessionID))
	}

	slog.Info("hub shutdown complete")
}

// DeliverTo hands a frame to the session's live connection and reports
// whether it was accepted. False means the session is not connected to
// this instance, its buffer was full, or the hub has shut down.
func (h *Hub) DeliverTo(sessionID, frameType string, payload []byte) bool {
	d := &delivery{
		sessionID: sessionID,
		frameType: frameType,
		payload:   payload,
		done:      make(chan bool, 1),
	}

	select {
	case h.deliver <- d:
	case <-h.done:
		return false
	}

	select {
	case ok := <-d.done:
		return ok
	case <-h.done:
		return false
	}
}

// Register registers a client with the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}
