package domain

import "errors"

var ErrInvalidProfile = errors.New("invalid peer profile")

const maxChannels = 16

// ContactChannel is one way of reaching a person, such as an email
// address or a phone number
type ContactChannel struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// PeerProfile is the immutable card received from a matched peer. It is
// validated once at the wire boundary and treated as trusted afterwards.
type PeerProfile struct {
	DisplayName string           `json:"display_name"`
	Channels    []ContactChannel `json:"channels"`
	Colors      []string         `json:"colors,omitempty"`
}

// Validate checks the structural invariants of a profile: a non-empty
// display name and at least one channel with both kind and value set.
func (p PeerProfile) Validate() error {
	if p.DisplayName == "" {
		return ErrInvalidProfile
	}
	if len(p.Channels) == 0 || len(p.Channels) > maxChannels {
		return ErrInvalidProfile
	}
	for _, ch := range p.Channels {
		if ch.Kind == "" || ch.Value == "" {
			return ErrInvalidProfile
		}
	}
	return nil
}
