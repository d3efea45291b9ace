package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"bumplink/internal/domain"
	"bumplink/internal/protocol"
)

// EventPublisher pushes exchange events to the message broker
type EventPublisher interface {
	PublishContactSaved(ctx context.Context, sessionID, peerSession, token, displayName string) error
	PublishReceipt(ctx context.Context, peerSession, token, event string) error
}

// Deliverer pushes a frame to a session's live channel connection
type Deliverer interface {
	DeliverTo(sessionID, frameType string, payload []byte) bool
}

// ExchangeService orchestrates the matching side of the contact
// exchange: session announcements, ready-signal pairing, the
// accept/reject handshake, and contact persistence.
type ExchangeService struct {
	contactRepo domain.ContactRepository
	registry    *PairingRegistry
	publisher   EventPublisher
	deliverer   Deliverer
}

func NewExchangeService(contactRepo domain.ContactRepository, registry *PairingRegistry,
	publisher EventPublisher, deliverer Deliverer) *ExchangeService {
	return &ExchangeService{
		contactRepo: contactRepo,
		registry:    registry,
		publisher:   publisher,
		deliverer:   deliverer,
	}
}

// HandleHello registers a session's shareable profile
func (s *ExchangeService) HandleHello(ctx context.Context, sessionID string, profile domain.PeerProfile) error {
	if sessionID == "" {
		return domain.ErrInvalidInput
	}
	if err := profile.Validate(); err != nil {
		return err
	}

	return s.registry.Register(sessionID, profile)
}

// HandleReady records a bump signal. When it completes a pairing, both
// sides are pushed a match envelope carrying the peer's profile and
// the handshake token.
func (s *ExchangeService) HandleReady(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return domain.ErrInvalidInput
	}

	pairing, matched := s.registry.Ready(sessionID, time.Now())
	if !matched {
		return nil
	}

	s.deliverMatch(pairing, pairing.SessionA)
	s.deliverMatch(pairing, pairing.SessionB)
	return nil
}

// HandleDisconnect clears session state owned by a dropped connection
func (s *ExchangeService) HandleDisconnect(sessionID string) {
	s.registry.Drop(sessionID)
}

// deliverMatch pushes the match envelope for one side of a fresh
// pairing. Both sides signalled ready against this instance, so both
// are expected on the local hub.
func (s *ExchangeService) deliverMatch(pairing *domain.Pairing, sessionID string) {
	peerProfile := pairing.ProfileFor(pairing.PeerOf(sessionID))
	env := protocol.ServerEnvelope{
		Type:      protocol.TypeMatch,
		SessionID: sessionID,
		Token:     pairing.Token,
		Peer:      &peerProfile,
	}

	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("failed to marshal match envelope",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID))
		return
	}

	if !s.deliverer.DeliverTo(sessionID, protocol.TypeMatch, data) {
		slog.Warn("match not delivered",
			slog.String("session_id", sessionID))
	}
}

// AcceptMatch validates one side's accept handshake. The acceptance is
// committed by the contact save that follows it.
func (s *ExchangeService) AcceptMatch(ctx context.Context, sessionID, token string) error {
	if sessionID == "" || token == "" {
		return domain.ErrInvalidInput
	}

	return s.registry.Accept(token, sessionID)
}

// RejectMatch concludes one side's handshake with a refusal and tells
// the peer through a receipt. Repeated rejects succeed without
// publishing again.
func (s *ExchangeService) RejectMatch(ctx context.Context, sessionID, token string) error {
	if sessionID == "" || token == "" {
		return domain.ErrInvalidInput
	}

	peer, first, err := s.registry.Reject(token, sessionID)
	if err != nil {
		return err
	}

	if first {
		if perr := s.publisher.PublishReceipt(ctx, peer, token, protocol.ReceiptPeerRejected); perr != nil {
			slog.Warn("reject receipt not published",
				slog.String("error", perr.Error()),
				slog.String("peer_session", peer))
		}
	}
	return nil
}

// SaveContact persists a peer card captured in an exchange. The save
// is idempotent per (token, owner): replaying it returns the existing
// row with created false, so a client may retry a save whose response
// was lost even after the pairing itself is gone.
func (s *ExchangeService) SaveContact(ctx context.Context, sessionID, matchToken string, profile domain.PeerProfile) (*domain.SavedContact, bool, error) {
	if sessionID == "" || matchToken == "" {
		return nil, false, domain.ErrInvalidInput
	}
	if err := profile.Validate(); err != nil {
		return nil, false, err
	}

	if _, err := s.registry.Lookup(matchToken, sessionID); err != nil {
		// No live pairing: only a replay of an already persisted save
		// is acceptable
		if existing, rerr := s.contactRepo.GetByExchange(ctx, matchToken, sessionID); rerr == nil {
			return existing, false, nil
		}
		return nil, false, domain.ErrPairingNotFound
	}

	contact := &domain.SavedContact{
		OwnerSession: sessionID,
		MatchToken:   matchToken,
		DisplayName:  profile.DisplayName,
		Channels:     profile.Channels,
		Colors:       profile.Colors,
	}

	if err := s.contactRepo.Create(ctx, contact); err != nil {
		if errors.Is(err, domain.ErrDuplicateContact) {
			existing, gerr := s.contactRepo.GetByExchange(ctx, matchToken, sessionID)
			if gerr != nil {
				return nil, false, gerr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	peer, first := s.registry.ConcludeSave(matchToken, sessionID)
	if first && peer != "" {
		if perr := s.publisher.PublishContactSaved(ctx, sessionID, peer, matchToken, contact.DisplayName); perr != nil {
			slog.Warn("contact saved event not published",
				slog.String("error", perr.Error()),
				slog.String("session_id", sessionID))
		}
		if perr := s.publisher.PublishReceipt(ctx, peer, matchToken, protocol.ReceiptPeerSaved); perr != nil {
			slog.Warn("save receipt not published",
				slog.String("error", perr.Error()),
				slog.String("peer_session", peer))
		}
	}

	return contact, true, nil
}

// ListContacts returns the most recent contacts saved by a session
func (s *ExchangeService) ListContacts(ctx context.Context, sessionID string, limit int) ([]*domain.SavedContact, error) {
	if sessionID == "" {
		return nil, domain.ErrInvalidInput
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.contactRepo.ListRecent(ctx, sessionID, limit)
}

func (s *ExchangeService) GetContact(ctx context.Context, id string) (*domain.SavedContact, error) {
	if id == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.contactRepo.GetByID(ctx, id)
}

func (s *ExchangeService) DeleteContact(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrInvalidInput
	}
	return s.contactRepo.Delete(ctx, id)
}
