package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrContactNotFound  = errors.New("contact not found")
	ErrDuplicateContact = errors.New("contact already saved for this exchange")
)

// SavedContact is the durable record produced by an accepted exchange.
// A contact is unique per (match token, owner session): both sides of a
// pairing share the token, so the owner session identifies which side
// saved it.
type SavedContact struct {
	ID           string           `json:"id"`
	OwnerSession string           `json:"owner_session"`
	MatchToken   string           `json:"match_token"`
	DisplayName  string           `json:"display_name"`
	Channels     []ContactChannel `json:"channels"`
	Colors       []string         `json:"colors,omitempty"`
	SavedAt      time.Time        `json:"saved_at"`
}

// ContactStore persists a peer profile after the local user accepted it.
// The session id and match token together prove the caller completed the
// handshake the contact came from. Save must be called at most once per
// successful accept; retries after a failed save are allowed and
// implementations must make them safe.
type ContactStore interface {
	Save(ctx context.Context, sessionID string, profile PeerProfile, matchToken string) (*SavedContact, error)
}

// ContactRepository defines the interface for contact data access
type ContactRepository interface {
	Create(ctx context.Context, contact *SavedContact) error
	GetByID(ctx context.Context, id string) (*SavedContact, error)
	GetByExchange(ctx context.Context, matchToken, ownerSession string) (*SavedContact, error)
	ListRecent(ctx context.Context, ownerSession string, limit int) ([]*SavedContact, error)
	Delete(ctx context.Context, id string) error
}
