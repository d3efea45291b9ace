package domain

import (
	"errors"
	"time"
)

var (
	ErrPairingNotFound = errors.New("pairing not found")
	ErrPairingResolved = errors.New("pairing already resolved")
	ErrRegistryFull    = errors.New("session quota exceeded")
)

// Pairing is the matching service's record of two sessions matched by
// near-simultaneous ready signals. The token is the credential both
// sides use for the accept/reject handshake.
type Pairing struct {
	Token     string      `json:"token"`
	SessionA  string      `json:"session_a"`
	SessionB  string      `json:"session_b"`
	ProfileA  PeerProfile `json:"profile_a"`
	ProfileB  PeerProfile `json:"profile_b"`
	CreatedAt time.Time   `json:"created_at"`
}

// Involves reports whether the given session is one of the paired sides
func (p *Pairing) Involves(sessionID string) bool {
	return p.SessionA == sessionID || p.SessionB == sessionID
}

// PeerOf returns the session id of the other side of the pairing
func (p *Pairing) PeerOf(sessionID string) string {
	if p.SessionA == sessionID {
		return p.SessionB
	}
	return p.SessionA
}

// ProfileFor returns the profile belonging to the given session
func (p *Pairing) ProfileFor(sessionID string) PeerProfile {
	if p.SessionA == sessionID {
		return p.ProfileA
	}
	return p.ProfileB
}
