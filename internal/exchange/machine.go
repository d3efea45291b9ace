package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bumplink/internal/domain"
	"bumplink/internal/motion"
	"bumplink/internal/observability"
	"bumplink/internal/permission"
)

// event is one authoritative input to the state machine. Exactly one
// event drives each transition; events that do not apply to the current
// state are dropped in place.
type event int

const (
	eventStart event = iota
	eventPermissionGranted
	eventPermissionDenied
	eventBump
	eventMatch
	eventTimeout
	eventAccepted
	eventRejected
	eventCancel
	eventFail
	eventReset
)

func (e event) String() string {
	switch e {
	case eventStart:
		return "start"
	case eventPermissionGranted:
		return "permission_granted"
	case eventPermissionDenied:
		return "permission_denied"
	case eventBump:
		return "bump"
	case eventMatch:
		return "match"
	case eventTimeout:
		return "timeout"
	case eventAccepted:
		return "accepted"
	case eventRejected:
		return "rejected"
	case eventCancel:
		return "cancel"
	case eventFail:
		return "fail"
	case eventReset:
		return "reset"
	}
	return "unknown"
}

// transitions is the single authoritative transition relation. Terminal
// states are left only through reset.
var transitions = map[domain.State]map[event]domain.State{
	domain.StateIdle: {
		eventStart: domain.StateRequestingPermission,
	},
	domain.StateRequestingPermission: {
		eventPermissionGranted: domain.StateWaitingForBump,
		eventPermissionDenied:  domain.StateError,
		eventFail:              domain.StateError,
	},
	domain.StateWaitingForBump: {
		eventBump:    domain.StateProcessing,
		eventTimeout: domain.StateTimeout,
		eventCancel:  domain.StateRejected,
		eventFail:    domain.StateError,
	},
	domain.StateProcessing: {
		eventMatch:   domain.StateMatched,
		eventTimeout: domain.StateTimeout,
		eventCancel:  domain.StateRejected,
		eventFail:    domain.StateError,
	},
	domain.StateMatched: {
		eventAccepted: domain.StateAccepted,
		eventRejected: domain.StateRejected,
		eventCancel:   domain.StateRejected,
		eventFail:     domain.StateError,
	},
	domain.StateAccepted: {
		eventReset: domain.StateIdle,
	},
	domain.StateRejected: {
		eventReset: domain.StateIdle,
	},
	domain.StateTimeout: {
		eventReset: domain.StateIdle,
	},
	domain.StateError: {
		eventReset: domain.StateIdle,
	},
}

// Snapshot is the machine's observable value: one state plus the data
// the UI renders for it
type Snapshot struct {
	State     domain.State
	SessionID string
	Peer      *domain.PeerProfile
	Contact   *domain.SavedContact
	Reason    string
}

// Machine orchestrates one exchange attempt at a time: permission gate,
// bump detector and session combined into a single observable state.
// All events serialize through one mutex, so the machine never applies
// two transitions for one input and a late event against a moved-on
// state is dropped, not re-applied.
type Machine struct {
	gate       *permission.Gate
	detector   *motion.Detector
	client     MatchClient
	store      domain.ContactStore
	profile    domain.PeerProfile
	waitWindow time.Duration

	mu       sync.Mutex
	state    domain.State
	session  *Session
	peer     *domain.PeerProfile
	contact  *domain.SavedContact
	reason   string
	timer    *time.Timer
	onChange func(Snapshot)
}

// NewMachine creates an idle machine. profile is the local user's
// shareable card, announced to the matching service on open; waitWindow
// bounds how long one attempt may wait for a bump and a match.
func NewMachine(gate *permission.Gate, detector *motion.Detector, client MatchClient,
	store domain.ContactStore, profile domain.PeerProfile, waitWindow time.Duration) *Machine {
	return &Machine{
		gate:       gate,
		detector:   detector,
		client:     client,
		store:      store,
		profile:    profile,
		waitWindow: waitWindow,
		state:      domain.StateIdle,
	}
}

// OnChange registers the listener notified after every applied
// transition with a snapshot of the new state
func (m *Machine) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// State returns the current exchange state
func (m *Machine) State() domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current state with its render data
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:   m.state,
		Peer:    m.peer,
		Contact: m.contact,
		Reason:  m.reason,
	}
	if m.session != nil {
		snap.SessionID = m.session.ID()
	}
	return snap
}

// dispatch applies one event against the transition relation. Returns
// whether the event was applied; an event with no transition from the
// current state leaves the machine untouched.
func (m *Machine) dispatch(ev event) bool {
	m.mu.Lock()

	target, ok := transitions[m.state][ev]
	if !ok {
		state := m.state
		m.mu.Unlock()
		slog.Debug("exchange event ignored",
			slog.String("state", string(state)),
			slog.String("event", ev.String()))
		return false
	}

	from := m.state
	m.state = target
	if target == domain.StateTimeout {
		m.reason = domain.ErrNoMatch.Error()
	}

	switch {
	case target == domain.StateWaitingForBump:
		m.armTimerLocked()
	case target == domain.StateMatched, target.Terminal(), target == domain.StateIdle:
		m.cancelTimerLocked()
	}

	sess := m.session
	release := target.Terminal() || target == domain.StateIdle
	if target == domain.StateIdle {
		m.session = nil
		m.peer = nil
		m.contact = nil
		m.reason = ""
	}

	snap := m.snapshotLocked()
	fn := m.onChange
	m.mu.Unlock()

	slog.Info("exchange state changed",
		slog.String("from", string(from)),
		slog.String("to", string(target)),
		slog.String("event", ev.String()),
		slog.String("session_id", snap.SessionID))

	if release {
		m.detector.Stop()
		if sess != nil {
			sess.Close()
		}
	}
	if target.Terminal() {
		observability.ExchangeOutcomes.WithLabelValues(string(target)).Inc()
	}

	if fn != nil {
		fn(snap)
	}
	return true
}

func (m *Machine) armTimerLocked() {
	m.cancelTimerLocked()
	m.timer = time.AfterFunc(m.waitWindow, func() {
		m.dispatch(eventTimeout)
	})
}

func (m *Machine) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Start begins an exchange attempt. It must be invoked from the user
// gesture: the permission prompt is the first suspension point, before
// any network or sensor work. Returns ErrExchangeActive unless the
// machine is idle.
func (m *Machine) Start(ctx context.Context) error {
	if !m.dispatch(eventStart) {
		return domain.ErrExchangeActive
	}

	res := m.gate.RequestAccess()
	if res.Decision == permission.Denied {
		m.mu.Lock()
		m.reason = res.Reason
		m.mu.Unlock()
		m.dispatch(eventPermissionDenied)
		return &domain.PermissionError{Reason: res.Reason}
	}

	sess := NewSession(m.client, m.store)
	sess.OnMatch(m.handleMatch)
	sess.OnError(m.fail)

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()

	m.dispatch(eventPermissionGranted)

	go m.connect(ctx, sess)
	return nil
}

// connect opens the channel and only then arms the detector, so a bump
// can never race ahead of the session it must signal on
func (m *Machine) connect(ctx context.Context, sess *Session) {
	if err := sess.Open(ctx, m.profile); err != nil {
		m.fail(err.Error())
		return
	}

	m.mu.Lock()
	waiting := m.state == domain.StateWaitingForBump && m.session == sess
	m.mu.Unlock()
	if !waiting {
		return
	}

	if err := m.detector.Start(m.handleBump); err != nil {
		m.fail(err.Error())
		return
	}

	// the attempt may have ended between the check and the arm; the
	// sensor must not outlive it
	if st := m.State(); st.Terminal() || st == domain.StateIdle {
		m.detector.Stop()
	}
}

func (m *Machine) handleBump() {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()

	if !m.dispatch(eventBump) {
		return
	}

	if err := sess.SignalReady(); err != nil {
		m.fail(err.Error())
	}
}

func (m *Machine) handleMatch(peer domain.PeerProfile, token string) {
	m.mu.Lock()
	m.peer = &peer
	m.mu.Unlock()

	if !m.dispatch(eventMatch) {
		m.mu.Lock()
		m.peer = nil
		m.mu.Unlock()
	}
}

func (m *Machine) fail(reason string) {
	m.mu.Lock()
	m.reason = reason
	m.mu.Unlock()

	if !m.dispatch(eventFail) {
		m.mu.Lock()
		m.reason = ""
		m.mu.Unlock()
	}
}

// Accept confirms the current match. On failure the machine stays in
// matched so the user may retry accept or fall back to reject; only a
// completed save moves the exchange to accepted.
func (m *Machine) Accept(ctx context.Context) (*domain.SavedContact, error) {
	m.mu.Lock()
	if m.state == domain.StateAccepted {
		contact := m.contact
		m.mu.Unlock()
		return contact, nil
	}
	if m.state != domain.StateMatched {
		state := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: accept in state %s", ErrNotMatched, state)
	}
	sess := m.session
	m.mu.Unlock()

	contact, err := sess.Accept(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.contact = contact
	m.mu.Unlock()

	m.dispatch(eventAccepted)
	return contact, nil
}

// Reject abandons the current match. Always succeeds locally; after a
// completed accept it is a no-op.
func (m *Machine) Reject(ctx context.Context) error {
	m.mu.Lock()
	if m.state == domain.StateAccepted {
		m.mu.Unlock()
		return nil
	}
	if m.state != domain.StateMatched {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: reject in state %s", ErrNotMatched, state)
	}
	sess := m.session
	m.mu.Unlock()

	if err := sess.Reject(ctx); err != nil {
		return err
	}

	m.dispatch(eventRejected)
	return nil
}

// Cancel abandons the attempt from any non-terminal waiting state. The
// sensor is released synchronously; the service is notified best-effort
// off the dispatch path.
func (m *Machine) Cancel() {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()

	if !m.dispatch(eventCancel) {
		return
	}

	if sess != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			sess.Cancel(ctx)
		}()
	}
}

// Reset tears a terminal state down to idle. The sensor subscription
// and the session channel are verifiably released before it returns.
func (m *Machine) Reset() {
	m.dispatch(eventReset)
}
