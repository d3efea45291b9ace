// Package protocol defines the wire envelopes exchanged between bump
// clients and the matching service, and validates inbound payloads
// before they reach the exchange core.
package protocol

import (
	"encoding/json"
	"fmt"

	"bumplink/internal/domain"
)

// Client to server message types
const (
	TypeHello = "hello"
	TypeReady = "ready"
)

// Server to client message types
const (
	TypeMatch   = "match"
	TypeReceipt = "receipt"
	TypeError   = "error"
)

// Receipt events
const (
	ReceiptPeerSaved    = "peer_saved"
	ReceiptPeerRejected = "peer_rejected"
)

// ClientEnvelope is a message sent by an exchange client over the
// session channel
type ClientEnvelope struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id"`
	Profile   *domain.PeerProfile `json:"profile,omitempty"`
}

// ServerEnvelope is a message pushed by the matching service over the
// session channel
type ServerEnvelope struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id,omitempty"`
	Token     string              `json:"token,omitempty"`
	Peer      *domain.PeerProfile `json:"peer,omitempty"`
	Event     string              `json:"event,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// ParseClientEnvelope decodes and validates a message received from a
// client. Anything malformed is a protocol violation; the caller logs
// and drops it.
func ParseClientEnvelope(data []byte) (*ClientEnvelope, error) {
	var env ClientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed client payload: %v", domain.ErrProtocolViolation, err)
	}

	if env.SessionID == "" {
		return nil, fmt.Errorf("%w: client envelope missing session id", domain.ErrProtocolViolation)
	}

	switch env.Type {
	case TypeHello:
		if env.Profile == nil {
			return nil, fmt.Errorf("%w: hello without profile", domain.ErrProtocolViolation)
		}
		if err := env.Profile.Validate(); err != nil {
			return nil, fmt.Errorf("%w: hello profile rejected: %v", domain.ErrProtocolViolation, err)
		}
	case TypeReady:
		// session id is all a ready signal carries
	default:
		return nil, fmt.Errorf("%w: unknown client envelope type %q", domain.ErrProtocolViolation, env.Type)
	}

	return &env, nil
}

// ParseServerEnvelope decodes and validates a message pushed by the
// matching service. A match must carry a token and a structurally valid
// peer profile before the exchange core ever sees it.
func ParseServerEnvelope(data []byte) (*ServerEnvelope, error) {
	var env ServerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed server payload: %v", domain.ErrProtocolViolation, err)
	}

	switch env.Type {
	case TypeMatch:
		if env.SessionID == "" || env.Token == "" {
			return nil, fmt.Errorf("%w: match missing session id or token", domain.ErrProtocolViolation)
		}
		if env.Peer == nil {
			return nil, fmt.Errorf("%w: match without peer profile", domain.ErrProtocolViolation)
		}
		if err := env.Peer.Validate(); err != nil {
			return nil, fmt.Errorf("%w: match peer profile rejected: %v", domain.ErrProtocolViolation, err)
		}
	case TypeReceipt:
		if env.Token == "" || env.Event == "" {
			return nil, fmt.Errorf("%w: receipt missing token or event", domain.ErrProtocolViolation)
		}
	case TypeError:
		// message text only, nothing to validate
	default:
		return nil, fmt.Errorf("%w: unknown server envelope type %q", domain.ErrProtocolViolation, env.Type)
	}

	return &env, nil
}
