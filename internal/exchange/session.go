// Package exchange implements the client side of the proximity
// contact-exchange protocol: the Session speaks to the matching
// service, the Machine orchestrates permission, bump detection and the
// accept/reject handshake into one observable state value.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"bumplink/internal/domain"
	"bumplink/internal/observability"
	"bumplink/internal/protocol"
)

var ErrNotMatched = errors.New("session has no match")

// Channel is a live connection to the matching service. Events yields
// validated server envelopes and is closed when the connection dies.
type Channel interface {
	Send(env protocol.ClientEnvelope) error
	Events() <-chan *protocol.ServerEnvelope
	Close() error
}

// MatchClient reaches the matching service: a channel for the session
// handshake plus the accept/reject calls, which are idempotent on the
// service side.
type MatchClient interface {
	Dial(ctx context.Context) (Channel, error)
	Accept(ctx context.Context, sessionID, token string) error
	Reject(ctx context.Context, sessionID, token string) error
}

// Session is one contact-exchange attempt against the matching service.
// It owns the channel, receives at most one match, and drives the
// accept/reject handshake. A session is single-use: opened once, closed
// exactly once, never reused across attempts.
type Session struct {
	meta   *domain.Session
	client MatchClient
	store  domain.ContactStore

	onMatch func(domain.PeerProfile, string)
	onError func(reason string)

	mu        sync.Mutex
	ch        Channel
	opened    bool
	matched   bool
	peer      domain.PeerProfile
	token     string
	handshake bool
	accepted  bool
	contact   *domain.SavedContact

	closed atomic.Bool
}

// NewSession mints a session with a fresh identifier. OnMatch and
// OnError must be set before Open.
func NewSession(client MatchClient, store domain.ContactStore) *Session {
	return &Session{
		meta:   domain.NewSession(),
		client: client,
		store:  store,
	}
}

// ID returns the session identifier minted at creation
func (s *Session) ID() string {
	return s.meta.ID
}

// OnMatch registers the callback fired when the matching service pairs
// this session. It fires at most once for the session's lifetime.
func (s *Session) OnMatch(fn func(peer domain.PeerProfile, token string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMatch = fn
}

// OnError registers the callback fired when the channel fails in a way
// the session cannot recover from
func (s *Session) OnError(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Open dials the matching service and announces the local profile. A
// session opens once; calling Open again on the same instance is an
// error.
func (s *Session) Open(ctx context.Context, profile domain.PeerProfile) error {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return domain.ErrExchangeActive
	}
	s.opened = true
	s.mu.Unlock()

	ch, err := s.client.Dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to open session channel: %w", err)
	}

	// the session may have been closed while the dial was in flight
	if s.closed.Load() {
		ch.Close()
		return domain.ErrSessionClosed
	}

	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()

	hello := protocol.ClientEnvelope{
		Type:      protocol.TypeHello,
		SessionID: s.meta.ID,
		Profile:   &profile,
	}
	if err := ch.Send(hello); err != nil {
		s.Close()
		return fmt.Errorf("failed to announce session: %w", err)
	}

	go s.consume(ch)
	return nil
}

// SignalReady tells the matching service this session felt a bump and
// is waiting to be paired
func (s *Session) SignalReady() error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()

	if ch == nil || s.closed.Load() {
		return domain.ErrSessionClosed
	}

	ready := protocol.ClientEnvelope{
		Type:      protocol.TypeReady,
		SessionID: s.meta.ID,
	}
	if err := ch.Send(ready); err != nil {
		return fmt.Errorf("failed to signal ready: %w", err)
	}
	return nil
}

// consume drains server envelopes until the channel dies. Pushes that
// have no business meaning for the current session state are logged and
// dropped, never escalated.
func (s *Session) consume(ch Channel) {
	for env := range ch.Events() {
		switch env.Type {
		case protocol.TypeMatch:
			s.handleMatch(env)

		case protocol.TypeReceipt:
			slog.Debug("peer receipt",
				slog.String("session_id", s.meta.ID),
				slog.String("event", env.Event))

		case protocol.TypeError:
			slog.Warn("matching service reported error",
				slog.String("session_id", s.meta.ID),
				slog.String("message", env.Message))
			s.fail("matching service error: " + env.Message)
		}
	}

	if !s.closed.Load() {
		s.fail("session channel closed unexpectedly")
	}
}

func (s *Session) handleMatch(env *protocol.ServerEnvelope) {
	s.mu.Lock()

	if env.SessionID != s.meta.ID {
		s.mu.Unlock()
		observability.ProtocolViolations.WithLabelValues("stale_session").Inc()
		slog.Warn("match for stale session dropped",
			slog.String("session_id", s.meta.ID),
			slog.String("match_session_id", env.SessionID))
		return
	}

	if s.matched {
		s.mu.Unlock()
		observability.ProtocolViolations.WithLabelValues("duplicate_match").Inc()
		slog.Warn("duplicate match dropped",
			slog.String("session_id", s.meta.ID))
		return
	}

	s.matched = true
	s.peer = *env.Peer
	s.token = env.Token
	fn := s.onMatch
	s.mu.Unlock()

	slog.Info("session matched",
		slog.String("session_id", s.meta.ID),
		slog.String("peer", env.Peer.DisplayName))

	if fn != nil {
		fn(*env.Peer, env.Token)
	}
}

func (s *Session) fail(reason string) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()

	if fn != nil {
		fn(reason)
	}
}

// Accept confirms the match and persists the peer as a contact. On any
// failure the session stays matched so the user can retry; the service
// side of accept is idempotent, so a retry after a half-completed
// attempt is safe.
func (s *Session) Accept(ctx context.Context) (*domain.SavedContact, error) {
	s.mu.Lock()
	if !s.matched {
		s.mu.Unlock()
		return nil, ErrNotMatched
	}
	if s.accepted {
		contact := s.contact
		s.mu.Unlock()
		return contact, nil
	}
	if s.handshake {
		s.mu.Unlock()
		return nil, domain.ErrHandshakeInFlight
	}
	s.handshake = true
	id, token, peer := s.meta.ID, s.token, s.peer
	s.mu.Unlock()

	if err := s.client.Accept(ctx, id, token); err != nil {
		s.endHandshake()
		return nil, fmt.Errorf("accept not delivered: %w", err)
	}

	contact, err := s.store.Save(ctx, id, peer, token)
	if err != nil {
		s.endHandshake()
		return nil, fmt.Errorf("contact not saved: %w", err)
	}

	s.mu.Lock()
	s.accepted = true
	s.handshake = false
	s.contact = contact
	s.mu.Unlock()

	return contact, nil
}

// Reject abandons the match. The local outcome never depends on the
// network: a failed remote notification is logged and swallowed because
// the user's intent to walk away must not be blocked.
func (s *Session) Reject(ctx context.Context) error {
	s.mu.Lock()
	if s.accepted {
		s.mu.Unlock()
		return nil
	}
	if s.handshake {
		s.mu.Unlock()
		return domain.ErrHandshakeInFlight
	}
	s.handshake = true
	id, token, matched := s.meta.ID, s.token, s.matched
	s.mu.Unlock()

	if matched {
		if err := s.client.Reject(ctx, id, token); err != nil {
			slog.Warn("reject not delivered, honoring local intent",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
	}

	s.endHandshake()
	return nil
}

// Cancel abandons the session before or after a match: best-effort
// remote notification, then the channel is released
func (s *Session) Cancel(ctx context.Context) {
	s.mu.Lock()
	id, token, matched := s.meta.ID, s.token, s.matched
	s.mu.Unlock()

	if matched {
		if err := s.client.Reject(ctx, id, token); err != nil {
			slog.Debug("cancel notification not delivered",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
	}

	s.Close()
}

func (s *Session) endHandshake() {
	s.mu.Lock()
	s.handshake = false
	s.mu.Unlock()
}

// Close releases the channel. Exactly one call reaches the underlying
// connection; the rest are no-ops.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()

	if ch != nil {
		return ch.Close()
	}
	return nil
}

// Closed reports whether the channel has been released
func (s *Session) Closed() bool {
	return s.closed.Load()
}
