package domain

import "errors"

var (
	ErrPermissionDenied  = errors.New("motion permission denied")
	ErrNoMatch           = errors.New("no match found within the waiting window")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrInvalidInput      = errors.New("invalid input")
)

// PermissionError wraps a permission denial with the platform's reason
// so the UI can explain why the exchange cannot start.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	if e.Reason == "" {
		return ErrPermissionDenied.Error()
	}
	return ErrPermissionDenied.Error() + ": " + e.Reason
}

func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}
