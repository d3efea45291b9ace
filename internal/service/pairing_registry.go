package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bumplink/internal/domain"
	"bumplink/internal/observability"
)

const (
	// Pairings nobody concludes are dropped after this long
	pairingTTL = 5 * time.Minute
	// Registry housekeeping cadence
	sweepInterval = 30 * time.Second
)

// TokenMinter mints opaque match tokens for new pairings
type TokenMinter interface {
	Generate() (string, error)
}

// waitingReady is the single slot holding the oldest unmatched ready
// signal. The next ready inside the window pairs with it.
type waitingReady struct {
	sessionID string
	at        time.Time
}

// pairingState is a live pairing plus which sides have concluded it.
// A side concludes by saving the peer's contact or by rejecting.
type pairingState struct {
	pairing   *domain.Pairing
	concluded map[string]bool
	rejected  map[string]bool
}

// PairingRegistry holds the matching service's in-memory state:
// announced profiles, the waiting ready slot, and live pairings. State
// is per-instance; both sides of a pairing signal ready against the
// same instance, while handshake receipts travel over the broker and
// reach peers on any instance.
type PairingRegistry struct {
	mu       sync.Mutex
	profiles map[string]domain.PeerProfile
	waiting  *waitingReady
	pairings map[string]*pairingState
	matched  map[string]string
	window   time.Duration
	capacity int
	tokens   TokenMinter
	stopCh   chan struct{}
}

// NewPairingRegistry creates a registry with automatic sweeping.
// capacity bounds the number of announced sessions; zero or negative
// means unbounded.
func NewPairingRegistry(window time.Duration, capacity int, tokens TokenMinter) *PairingRegistry {
	r := &PairingRegistry{
		profiles: make(map[string]domain.PeerProfile),
		pairings: make(map[string]*pairingState),
		matched:  make(map[string]string),
		window:   window,
		capacity: capacity,
		tokens:   tokens,
		stopCh:   make(chan struct{}),
	}

	// Start background sweep goroutine
	go r.sweepLoop(context.Background())

	return r
}

// Register announces a session's shareable profile. Announcing the
// same session again replaces the profile.
func (r *PairingRegistry) Register(sessionID string, profile domain.PeerProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, known := r.profiles[sessionID]; !known {
		if r.capacity > 0 && len(r.profiles) >= r.capacity {
			return domain.ErrRegistryFull
		}
	}
	r.profiles[sessionID] = profile
	return nil
}

// Ready records a bump signal. When another session signalled ready
// within the pairing window the two are matched and the new pairing is
// returned. Ready signals from unknown or already matched sessions are
// protocol violations: logged and dropped.
func (r *PairingRegistry) Ready(sessionID string, now time.Time) (*domain.Pairing, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, known := r.profiles[sessionID]
	if !known {
		observability.ProtocolViolations.WithLabelValues("stale_ready").Inc()
		slog.Warn("dropping ready for unknown session",
			slog.String("session_id", sessionID))
		return nil, false
	}

	if _, alreadyMatched := r.matched[sessionID]; alreadyMatched {
		observability.ProtocolViolations.WithLabelValues("double_ready").Inc()
		slog.Warn("dropping ready for already matched session",
			slog.String("session_id", sessionID))
		return nil, false
	}

	if r.waiting != nil && r.waiting.sessionID == sessionID {
		observability.ProtocolViolations.WithLabelValues("double_ready").Inc()
		slog.Warn("dropping repeated ready",
			slog.String("session_id", sessionID))
		return nil, false
	}

	if r.waiting != nil && now.Sub(r.waiting.at) > r.window {
		slog.Debug("lone ready expired",
			slog.String("session_id", r.waiting.sessionID))
		r.waiting = nil
	}

	if r.waiting == nil {
		r.waiting = &waitingReady{sessionID: sessionID, at: now}
		return nil, false
	}

	peer := r.waiting.sessionID

	token, err := r.tokens.Generate()
	if err != nil {
		slog.Error("failed to mint match token",
			slog.String("error", err.Error()))
		return nil, false
	}

	pairing := &domain.Pairing{
		Token:     token,
		SessionA:  peer,
		SessionB:  sessionID,
		ProfileA:  r.profiles[peer],
		ProfileB:  profile,
		CreatedAt: now,
	}
	r.pairings[token] = &pairingState{
		pairing:   pairing,
		concluded: make(map[string]bool),
		rejected:  make(map[string]bool),
	}
	r.matched[peer] = token
	r.matched[sessionID] = token
	r.waiting = nil

	observability.PairingsCreated.Inc()
	slog.Info("pairing created",
		slog.String("session_a", peer),
		slog.String("session_b", sessionID))

	return pairing, true
}

// Lookup returns the live pairing for the token, provided the session
// is one of its sides.
func (r *PairingRegistry) Lookup(token, sessionID string) (*domain.Pairing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.pairings[token]
	if !ok || !st.pairing.Involves(sessionID) {
		return nil, domain.ErrPairingNotFound
	}
	return st.pairing, nil
}

// Accept validates an accept handshake. Accepting does not conclude
// the side; the contact save does. Accepting after a reject from the
// same side is contradictory and refused.
func (r *PairingRegistry) Accept(token, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.pairings[token]
	if !ok || !st.pairing.Involves(sessionID) {
		return domain.ErrPairingNotFound
	}
	if st.rejected[sessionID] {
		return domain.ErrPairingResolved
	}
	return nil
}

// Reject concludes the session's side of the pairing with a refusal.
// It returns the peer session and whether this call was the first
// conclusion for the side, so the caller publishes at most one receipt.
func (r *PairingRegistry) Reject(token, sessionID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.pairings[token]
	if !ok || !st.pairing.Involves(sessionID) {
		return "", false, domain.ErrPairingNotFound
	}

	peer := st.pairing.PeerOf(sessionID)
	if st.concluded[sessionID] {
		return peer, false, nil
	}

	st.concluded[sessionID] = true
	st.rejected[sessionID] = true
	r.resolveIfConcludedLocked(token, st)
	return peer, true, nil
}

// ConcludeSave concludes the session's side of the pairing with a
// saved contact. Same first-conclusion contract as Reject.
func (r *PairingRegistry) ConcludeSave(token, sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.pairings[token]
	if !ok || !st.pairing.Involves(sessionID) {
		return "", false
	}

	peer := st.pairing.PeerOf(sessionID)
	if st.concluded[sessionID] {
		return peer, false
	}

	st.concluded[sessionID] = true
	r.resolveIfConcludedLocked(token, st)
	return peer, true
}

// Drop forgets a disconnected session's profile and waiting ready.
// Live pairings survive the disconnect; the handshake runs over plain
// HTTP and abandoned pairings are swept by TTL.
func (r *PairingRegistry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.profiles, sessionID)
	if r.waiting != nil && r.waiting.sessionID == sessionID {
		r.waiting = nil
	}
}

// resolveIfConcludedLocked removes a pairing once both sides concluded
func (r *PairingRegistry) resolveIfConcludedLocked(token string, st *pairingState) {
	if !st.concluded[st.pairing.SessionA] || !st.concluded[st.pairing.SessionB] {
		return
	}

	delete(r.pairings, token)
	delete(r.matched, st.pairing.SessionA)
	delete(r.matched, st.pairing.SessionB)
	slog.Info("pairing resolved",
		slog.String("session_a", st.pairing.SessionA),
		slog.String("session_b", st.pairing.SessionB))
}

// sweepLoop periodically clears expired state to prevent memory leaks
func (r *PairingRegistry) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// sweep drops the waiting ready once its window has passed and reaps
// pairings older than the TTL
func (r *PairingRegistry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiting != nil && now.Sub(r.waiting.at) > r.window {
		slog.Debug("lone ready expired",
			slog.String("session_id", r.waiting.sessionID))
		r.waiting = nil
	}

	for token, st := range r.pairings {
		if now.Sub(st.pairing.CreatedAt) > pairingTTL {
			delete(r.pairings, token)
			delete(r.matched, st.pairing.SessionA)
			delete(r.matched, st.pairing.SessionB)
			slog.Info("abandoned pairing dropped",
				slog.String("session_a", st.pairing.SessionA),
				slog.String("session_b", st.pairing.SessionB))
		}
	}
}

// Stop stops the sweep goroutine
func (r *PairingRegistry) Stop() {
	close(r.stopCh)
}
