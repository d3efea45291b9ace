package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrExchangeActive    = errors.New("exchange already in progress")
	ErrSessionClosed     = errors.New("session closed")
	ErrHandshakeInFlight = errors.New("handshake already in progress")
)

// Session represents a single contact-exchange attempt. A session is
// short-lived: it is created when the user starts an exchange and
// destroyed when the exchange reaches a terminal state or is reset.
type Session struct {
	ID        string    `json:"id"`
	Status    State     `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSession creates a session in the idle state with a fresh identifier
func NewSession() *Session {
	return &Session{
		ID:        uuid.NewString(),
		Status:    StateIdle,
		CreatedAt: time.Now(),
	}
}
