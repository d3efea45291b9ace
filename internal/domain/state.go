package domain

// State is the observable lifecycle state of a contact exchange
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting_permission"
	StateWaitingForBump       State = "waiting_for_bump"
	StateProcessing           State = "processing"
	StateMatched              State = "matched"
	StateAccepted             State = "accepted"
	StateRejected             State = "rejected"
	StateTimeout              State = "timeout"
	StateError                State = "error"
)

// Terminal reports whether the state ends the exchange. Terminal states
// are only left through an explicit reset.
func (s State) Terminal() bool {
	switch s {
	case StateAccepted, StateRejected, StateTimeout, StateError:
		return true
	}
	return false
}
