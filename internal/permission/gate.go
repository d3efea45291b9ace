// Package permission wraps the platform's motion-sensor consent
// primitive. Some platforms only show the consent prompt when the
// request is made synchronously inside a user-gesture handler, so the
// gate performs no asynchronous work of its own before the platform
// call.
package permission

import (
	"log/slog"
	"sync"
)

// Decision is the platform's answer to a motion-access request
type Decision string

const (
	Granted     Decision = "granted"
	Denied      Decision = "denied"
	NotRequired Decision = "not_required"
)

// Result carries a decision and, for denials, the platform's
// human-readable reason
type Result struct {
	Decision Decision
	Reason   string
}

// Requester is the platform capability behind the gate. The returned
// error means the prompt could not be shown at all, which callers must
// treat as a denial.
type Requester interface {
	RequestAccess() (Result, error)
}

// RequesterFunc adapts a function to the Requester interface
type RequesterFunc func() (Result, error)

func (f RequesterFunc) RequestAccess() (Result, error) {
	return f()
}

// Gate guards motion-sensor access behind a single RequestAccess call.
// A grant is cached per gate instance, so the prompt is shown at most
// once per exchange flow; a denial is never retried automatically
// because the gesture association cannot be synthesized, only
// re-solicited from the user.
type Gate struct {
	requester Requester

	mu      sync.Mutex
	granted bool
}

// NewGate creates a gate over the platform requester
func NewGate(requester Requester) *Gate {
	return &Gate{requester: requester}
}

// RequestAccess asks the platform for motion access. It must be called
// directly from the user-gesture path: the only suspension point is the
// platform prompt itself.
func (g *Gate) RequestAccess() Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.granted {
		return Result{Decision: Granted}
	}

	res, err := g.requester.RequestAccess()
	if err != nil {
		slog.Warn("permission prompt failed",
			slog.String("error", err.Error()))
		return Result{Decision: Denied, Reason: err.Error()}
	}

	switch res.Decision {
	case Granted, NotRequired:
		g.granted = true
	case Denied:
		slog.Info("motion permission denied",
			slog.String("reason", res.Reason))
	default:
		// unknown platform answers count as denials
		return Result{Decision: Denied, Reason: "unrecognized platform decision: " + string(res.Decision)}
	}

	return res
}
