// Package matchclient connects a bump client to the matching service:
// a websocket channel for the session protocol plus the REST calls of
// the accept/reject handshake.
package matchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"bumplink/internal/exchange"
	"bumplink/internal/observability"
	"bumplink/internal/protocol"
)

const (
	// Time allowed to write a message to the service
	writeWait = 10 * time.Second

	// Time allowed for the opening handshake
	handshakeTimeout = 10 * time.Second
)

// Client reaches one matching service instance. It implements
// exchange.MatchClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     websocket.Dialer
}

// New creates a client for the service at baseURL, for example
// "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		dialer: websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial opens the websocket session channel
func (c *Client) Dial(ctx context.Context) (exchange.Channel, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to dial matching service (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial matching service: %w", err)
	}

	ch := &channel{
		conn:   conn,
		events: make(chan *protocol.ServerEnvelope, 16),
	}
	go ch.readLoop()
	return ch, nil
}

// wsURL rewrites the base URL's scheme for the websocket endpoint
func (c *Client) wsURL() string {
	url := c.baseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws/exchange"
}

// Accept confirms a match with the service. The call is retried a few
// times because accept is idempotent on the service side.
func (c *Client) Accept(ctx context.Context, sessionID, token string) error {
	return c.postHandshake(ctx, "/v1/matches/accept", sessionID, token)
}

// Reject declines a match with the service
func (c *Client) Reject(ctx context.Context, sessionID, token string) error {
	return c.postHandshake(ctx, "/v1/matches/reject", sessionID, token)
}

type handshakeRequest struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

func (c *Client) postHandshake(ctx context.Context, path, sessionID, token string) error {
	body, err := json.Marshal(handshakeRequest{SessionID: sessionID, Token: token})
	if err != nil {
		return fmt.Errorf("failed to encode handshake request: %w", err)
	}

	// Retry logic with linear backoff
	var resp *http.Response
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create handshake request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, lastErr = c.httpClient.Do(req)
		if lastErr == nil && resp.StatusCode < http.StatusInternalServerError {
			break
		}
		if resp != nil {
			resp.Body.Close()
			lastErr = fmt.Errorf("service returned status %d", resp.StatusCode)
		}
		if attempt < 3 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if lastErr != nil {
		return fmt.Errorf("handshake not delivered after 3 attempts: %w", lastErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("handshake rejected with status %d", resp.StatusCode)
	}
	return nil
}

// channel is one live websocket connection to the matching service
type channel struct {
	conn   *websocket.Conn
	events chan *protocol.ServerEnvelope

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Send writes one client envelope in a thread-safe manner
func (ch *channel) Send(env protocol.ClientEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()

	if ch.closed.Load() {
		return websocket.ErrCloseSent
	}

	if err := ch.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ch.conn.WriteMessage(websocket.TextMessage, data)
}

// Events yields validated server envelopes. The channel is closed when
// the connection dies.
func (ch *channel) Events() <-chan *protocol.ServerEnvelope {
	return ch.events
}

// readLoop pumps inbound frames into the events channel. Malformed
// payloads are logged and dropped without killing the connection.
func (ch *channel) readLoop() {
	defer close(ch.events)

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			if !ch.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("session channel read failed",
					slog.String("error", err.Error()))
			}
			return
		}

		env, err := protocol.ParseServerEnvelope(data)
		if err != nil {
			observability.ProtocolViolations.WithLabelValues("malformed_server_envelope").Inc()
			slog.Warn("dropping malformed server envelope",
				slog.String("error", err.Error()))
			continue
		}

		ch.events <- env
	}
}

// Close shuts the connection down exactly once, announcing a normal
// closure to the service first
func (ch *channel) Close() error {
	if !ch.closed.CompareAndSwap(false, true) {
		return nil
	}

	ch.writeMu.Lock()
	deadline := time.Now().Add(writeWait)
	_ = ch.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := ch.conn.Close()
	ch.writeMu.Unlock()
	return err
}
