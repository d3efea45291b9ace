package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"bumplink/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// nextID generates a unique ID for test fixtures
func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// ProfileOptions allows customizing profile fixture creation
type ProfileOptions struct {
	DisplayName string
	Channels    []domain.ContactChannel
	Colors      []string
}

// NewTestProfile creates a structurally valid peer profile with
// sensible defaults. Pass options to override specific fields.
func NewTestProfile(opts ...func(*ProfileOptions)) domain.PeerProfile {
	o := &ProfileOptions{
		DisplayName: fmt.Sprintf("Test Peer %d", idCounter.Add(1)),
		Channels: []domain.ContactChannel{
			{Kind: "email", Value: fmt.Sprintf("peer%d@example.com", idCounter.Load())},
		},
		Colors: []string{"#1f77b4", "#ff7f0e"},
	}

	for _, opt := range opts {
		opt(o)
	}

	return domain.PeerProfile{
		DisplayName: o.DisplayName,
		Channels:    o.Channels,
		Colors:      o.Colors,
	}
}

// Profile option functions

// WithDisplayName sets the profile display name
func WithDisplayName(name string) func(*ProfileOptions) {
	return func(o *ProfileOptions) {
		o.DisplayName = name
	}
}

// WithChannels replaces the profile contact channels
func WithChannels(channels ...domain.ContactChannel) func(*ProfileOptions) {
	return func(o *ProfileOptions) {
		o.Channels = channels
	}
}

// WithColors sets the profile identicon colors
func WithColors(colors ...string) func(*ProfileOptions) {
	return func(o *ProfileOptions) {
		o.Colors = colors
	}
}

// ContactOptions allows customizing saved-contact fixture creation
type ContactOptions struct {
	ID           string
	OwnerSession string
	MatchToken   string
	DisplayName  string
	Channels     []domain.ContactChannel
	Colors       []string
	SavedAt      time.Time
}

// NewTestContact creates a saved contact with sensible defaults
func NewTestContact(opts ...func(*ContactOptions)) *domain.SavedContact {
	o := &ContactOptions{
		ID:           nextID("contact"),
		OwnerSession: nextID("session"),
		MatchToken:   nextID("token"),
		DisplayName:  fmt.Sprintf("Saved Peer %d", idCounter.Load()),
		Channels: []domain.ContactChannel{
			{Kind: "phone", Value: "+15550100"},
		},
		SavedAt: time.Now(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return &domain.SavedContact{
		ID:           o.ID,
		OwnerSession: o.OwnerSession,
		MatchToken:   o.MatchToken,
		DisplayName:  o.DisplayName,
		Channels:     o.Channels,
		Colors:       o.Colors,
		SavedAt:      o.SavedAt,
	}
}

// Contact option functions

// WithContactID sets the contact ID
func WithContactID(id string) func(*ContactOptions) {
	return func(o *ContactOptions) {
		o.ID = id
	}
}

// WithOwnerSession sets the session that saved the contact
func WithOwnerSession(sessionID string) func(*ContactOptions) {
	return func(o *ContactOptions) {
		o.OwnerSession = sessionID
	}
}

// WithMatchToken sets the token of the exchange the contact came from
func WithMatchToken(token string) func(*ContactOptions) {
	return func(o *ContactOptions) {
		o.MatchToken = token
	}
}

// WithContactName sets the contact display name
func WithContactName(name string) func(*ContactOptions) {
	return func(o *ContactOptions) {
		o.DisplayName = name
	}
}

// WithContactChannels replaces the contact channels
func WithContactChannels(channels ...domain.ContactChannel) func(*ContactOptions) {
	return func(o *ContactOptions) {
		o.Channels = channels
	}
}

// WithSavedAt sets the contact save time
func WithSavedAt(t time.Time) func(*ContactOptions) {
	return func(o *ContactOptions) {
		o.SavedAt = t
	}
}

// PairingOptions allows customizing pairing fixture creation
type PairingOptions struct {
	Token     string
	SessionA  string
	SessionB  string
	ProfileA  domain.PeerProfile
	ProfileB  domain.PeerProfile
	CreatedAt time.Time
}

// NewTestPairing creates a pairing between two fresh sessions
func NewTestPairing(opts ...func(*PairingOptions)) *domain.Pairing {
	o := &PairingOptions{
		Token:     nextID("token"),
		SessionA:  nextID("session"),
		SessionB:  nextID("session"),
		ProfileA:  NewTestProfile(),
		ProfileB:  NewTestProfile(),
		CreatedAt: time.Now(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return &domain.Pairing{
		Token:     o.Token,
		SessionA:  o.SessionA,
		SessionB:  o.SessionB,
		ProfileA:  o.ProfileA,
		ProfileB:  o.ProfileB,
		CreatedAt: o.CreatedAt,
	}
}

// Pairing option functions

// WithPairingToken sets the pairing token
func WithPairingToken(token string) func(*PairingOptions) {
	return func(o *PairingOptions) {
		o.Token = token
	}
}

// WithSessions sets both paired session ids
func WithSessions(a, b string) func(*PairingOptions) {
	return func(o *PairingOptions) {
		o.SessionA = a
		o.SessionB = b
	}
}

// WithProfiles sets both paired profiles
func WithProfiles(a, b domain.PeerProfile) func(*PairingOptions) {
	return func(o *PairingOptions) {
		o.ProfileA = a
		o.ProfileB = b
	}
}

// Batch creation helpers

// NewTestContacts creates multiple contacts saved by the same session
func NewTestContacts(ownerSession string, count int) []*domain.SavedContact {
	contacts := make([]*domain.SavedContact, count)
	for i := 0; i < count; i++ {
		contacts[i] = NewTestContact(
			WithOwnerSession(ownerSession),
			WithSavedAt(time.Now().Add(time.Duration(i)*time.Second)),
		)
	}
	return contacts
}

// ResetIDCounter resets the ID counter (useful for deterministic tests)
func ResetIDCounter() {
	idCounter.Store(0)
}
