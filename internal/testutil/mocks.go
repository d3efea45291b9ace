// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the bumplink application.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"bumplink/internal/domain"
	"bumplink/internal/motion"
	"bumplink/internal/permission"
)

// Common test errors
var (
	ErrMockNotImplemented = errors.New("mock function not implemented")
	ErrMockUnavailable    = errors.New("mock: unavailable")
)

// MockContactRepository implements domain.ContactRepository for testing
type MockContactRepository struct {
	mu sync.RWMutex

	// Function overrides - set these to customize behavior
	CreateFunc        func(ctx context.Context, contact *domain.SavedContact) error
	GetByIDFunc       func(ctx context.Context, id string) (*domain.SavedContact, error)
	GetByExchangeFunc func(ctx context.Context, matchToken, ownerSession string) (*domain.SavedContact, error)
	ListRecentFunc    func(ctx context.Context, ownerSession string, limit int) ([]*domain.SavedContact, error)
	DeleteFunc        func(ctx context.Context, id string) error

	// In-memory storage for simple tests
	Contacts map[string]*domain.SavedContact
}

// NewMockContactRepository creates a new MockContactRepository with initialized maps
func NewMockContactRepository() *MockContactRepository {
	return &MockContactRepository{
		Contacts: make(map[string]*domain.SavedContact),
	}
}

func (m *MockContactRepository) Create(ctx context.Context, contact *domain.SavedContact) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, contact)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Contacts == nil {
		m.Contacts = make(map[string]*domain.SavedContact)
	}

	// Both sides of a pairing share the token, so uniqueness is per owner
	for _, c := range m.Contacts {
		if c.MatchToken == contact.MatchToken && c.OwnerSession == contact.OwnerSession {
			return domain.ErrDuplicateContact
		}
	}

	if contact.ID == "" {
		contact.ID = nextID("contact")
	}
	if contact.SavedAt.IsZero() {
		contact.SavedAt = time.Now()
	}
	m.Contacts[contact.ID] = contact
	return nil
}

func (m *MockContactRepository) GetByID(ctx context.Context, id string) (*domain.SavedContact, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if contact, ok := m.Contacts[id]; ok {
		return contact, nil
	}
	return nil, domain.ErrContactNotFound
}

func (m *MockContactRepository) GetByExchange(ctx context.Context, matchToken, ownerSession string) (*domain.SavedContact, error) {
	if m.GetByExchangeFunc != nil {
		return m.GetByExchangeFunc(ctx, matchToken, ownerSession)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, contact := range m.Contacts {
		if contact.MatchToken == matchToken && contact.OwnerSession == ownerSession {
			return contact, nil
		}
	}
	return nil, domain.ErrContactNotFound
}

func (m *MockContactRepository) ListRecent(ctx context.Context, ownerSession string, limit int) ([]*domain.SavedContact, error) {
	if m.ListRecentFunc != nil {
		return m.ListRecentFunc(ctx, ownerSession, limit)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*domain.SavedContact, 0)
	for _, contact := range m.Contacts {
		if contact.OwnerSession == ownerSession {
			result = append(result, contact)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SavedAt.After(result[j].SavedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockContactRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.Contacts[id]; !ok {
		return domain.ErrContactNotFound
	}
	delete(m.Contacts, id)
	return nil
}

// MockContactStore implements domain.ContactStore for testing
type MockContactStore struct {
	mu sync.RWMutex

	// Function overrides
	SaveFunc func(ctx context.Context, sessionID string, profile domain.PeerProfile, matchToken string) (*domain.SavedContact, error)

	// Call tracking
	Saves []SaveCall
}

// SaveCall records a call to Save
type SaveCall struct {
	SessionID  string
	Profile    domain.PeerProfile
	MatchToken string
}

// NewMockContactStore creates a new MockContactStore
func NewMockContactStore() *MockContactStore {
	return &MockContactStore{
		Saves: make([]SaveCall, 0),
	}
}

func (m *MockContactStore) Save(ctx context.Context, sessionID string, profile domain.PeerProfile, matchToken string) (*domain.SavedContact, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, sessionID, profile, matchToken)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Saves = append(m.Saves, SaveCall{
		SessionID:  sessionID,
		Profile:    profile,
		MatchToken: matchToken,
	})
	return &domain.SavedContact{
		ID:           nextID("contact"),
		OwnerSession: sessionID,
		MatchToken:   matchToken,
		DisplayName:  profile.DisplayName,
		Channels:     profile.Channels,
		Colors:       profile.Colors,
		SavedAt:      time.Now(),
	}, nil
}

// GetSaveCalls returns all recorded save calls
func (m *MockContactStore) GetSaveCalls() []SaveCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SaveCall{}, m.Saves...)
}

// MockSource implements motion.Source for testing. Samples pushed with
// Emit reach whatever consumer is currently subscribed.
type MockSource struct {
	mu sync.RWMutex

	// Function overrides
	SubscribeFunc func(fn func(motion.Sample)) (func(), error)

	// Call tracking
	Subscribes int
	Cancels    int

	fn func(motion.Sample)
}

// NewMockSource creates a new MockSource
func NewMockSource() *MockSource {
	return &MockSource{}
}

func (m *MockSource) Subscribe(fn func(motion.Sample)) (func(), error) {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Subscribes++
	m.fn = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Cancels++
		m.fn = nil
	}, nil
}

// Emit pushes one sample to the current subscriber, if any
func (m *MockSource) Emit(sample motion.Sample) {
	m.mu.RLock()
	fn := m.fn
	m.mu.RUnlock()

	if fn != nil {
		fn(sample)
	}
}

// ActiveSubscribers returns how many subscriptions are currently live
func (m *MockSource) ActiveSubscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fn != nil {
		return 1
	}
	return 0
}

// MockRequester implements permission.Requester for testing
type MockRequester struct {
	mu sync.RWMutex

	// Function overrides
	RequestAccessFunc func() (permission.Result, error)

	// Result returned by the default implementation
	Result permission.Result

	// Call tracking
	Requests int
}

// NewMockRequester creates a requester that grants by default
func NewMockRequester() *MockRequester {
	return &MockRequester{
		Result: permission.Result{Decision: permission.Granted},
	}
}

func (m *MockRequester) RequestAccess() (permission.Result, error) {
	if m.RequestAccessFunc != nil {
		return m.RequestAccessFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests++
	return m.Result, nil
}

// GetRequestCount returns how many prompts reached the platform
func (m *MockRequester) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Requests
}

// MockEventPublisher implements service.EventPublisher for testing
type MockEventPublisher struct {
	mu sync.RWMutex

	// Function overrides
	PublishContactSavedFunc func(ctx context.Context, sessionID, peerSession, token, displayName string) error
	PublishReceiptFunc      func(ctx context.Context, peerSession, token, event string) error

	// Call tracking
	ContactSaves []ContactSavedCall
	Receipts     []ReceiptCall
}

// ContactSavedCall records a call to PublishContactSaved
type ContactSavedCall struct {
	SessionID   string
	PeerSession string
	Token       string
	DisplayName string
}

// ReceiptCall records a call to PublishReceipt
type ReceiptCall struct {
	PeerSession string
	Token       string
	Event       string
}

// NewMockEventPublisher creates a new MockEventPublisher
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{
		ContactSaves: make([]ContactSavedCall, 0),
		Receipts:     make([]ReceiptCall, 0),
	}
}

func (m *MockEventPublisher) PublishContactSaved(ctx context.Context, sessionID, peerSession, token, displayName string) error {
	if m.PublishContactSavedFunc != nil {
		return m.PublishContactSavedFunc(ctx, sessionID, peerSession, token, displayName)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ContactSaves = append(m.ContactSaves, ContactSavedCall{
		SessionID:   sessionID,
		PeerSession: peerSession,
		Token:       token,
		DisplayName: displayName,
	})
	return nil
}

func (m *MockEventPublisher) PublishReceipt(ctx context.Context, peerSession, token, event string) error {
	if m.PublishReceiptFunc != nil {
		return m.PublishReceiptFunc(ctx, peerSession, token, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Receipts = append(m.Receipts, ReceiptCall{
		PeerSession: peerSession,
		Token:       token,
		Event:       event,
	})
	return nil
}

// GetContactSavedCalls returns all recorded contact-saved publications
func (m *MockEventPublisher) GetContactSavedCalls() []ContactSavedCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ContactSavedCall{}, m.ContactSaves...)
}

// GetReceiptCalls returns all recorded receipt publications
func (m *MockEventPublisher) GetReceiptCalls() []ReceiptCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ReceiptCall{}, m.Receipts...)
}

// Reset clears all recorded publications
func (m *MockEventPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContactSaves = make([]ContactSavedCall, 0)
	m.Receipts = make([]ReceiptCall, 0)
}

// MockDeliverer implements messaging.Deliverer for testing
type MockDeliverer struct {
	mu sync.RWMutex

	// Function overrides
	DeliverToFunc func(sessionID, frameType string, payload []byte) bool

	// Call tracking
	Deliveries []DeliveryCall
}

// DeliveryCall records a payload delivered to a session
type DeliveryCall struct {
	SessionID string
	FrameType string
	Payload   []byte
}

// NewMockDeliverer creates a new MockDeliverer
func NewMockDeliverer() *MockDeliverer {
	return &MockDeliverer{
		Deliveries: make([]DeliveryCall, 0),
	}
}

func (m *MockDeliverer) DeliverTo(sessionID, frameType string, payload []byte) bool {
	if m.DeliverToFunc != nil {
		return m.DeliverToFunc(sessionID, frameType, payload)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Deliveries = append(m.Deliveries, DeliveryCall{
		SessionID: sessionID,
		FrameType: frameType,
		Payload:   append([]byte{}, payload...),
	})
	return true
}

// GetDeliveries returns all recorded deliveries
func (m *MockDeliverer) GetDeliveries() []DeliveryCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]DeliveryCall{}, m.Deliveries...)
}

// MockCoordinator implements websocket.ExchangeCoordinator for testing
type MockCoordinator struct {
	mu sync.RWMutex

	// Function overrides
	HandleHelloFunc      func(ctx context.Context, sessionID string, profile domain.PeerProfile) error
	HandleReadyFunc      func(ctx context.Context, sessionID string) error
	HandleDisconnectFunc func(sessionID string)

	// Call tracking
	Hellos      []HelloCall
	Readies     []string
	Disconnects []string
}

// HelloCall records a profile announcement handled by the coordinator
type HelloCall struct {
	SessionID string
	Profile   domain.PeerProfile
}

// NewMockCoordinator creates a new MockCoordinator
func NewMockCoordinator() *MockCoordinator {
	return &MockCoordinator{
		Hellos:      make([]HelloCall, 0),
		Readies:     make([]string, 0),
		Disconnects: make([]string, 0),
	}
}

func (m *MockCoordinator) HandleHello(ctx context.Context, sessionID string, profile domain.PeerProfile) error {
	m.mu.Lock()
	m.Hellos = append(m.Hellos, HelloCall{SessionID: sessionID, Profile: profile})
	m.mu.Unlock()

	if m.HandleHelloFunc != nil {
		return m.HandleHelloFunc(ctx, sessionID, profile)
	}
	return nil
}

func (m *MockCoordinator) HandleReady(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	m.Readies = append(m.Readies, sessionID)
	m.mu.Unlock()

	if m.HandleReadyFunc != nil {
		return m.HandleReadyFunc(ctx, sessionID)
	}
	return nil
}

func (m *MockCoordinator) HandleDisconnect(sessionID string) {
	m.mu.Lock()
	m.Disconnects = append(m.Disconnects, sessionID)
	m.mu.Unlock()

	if m.HandleDisconnectFunc != nil {
		m.HandleDisconnectFunc(sessionID)
	}
}

// GetHellos returns all recorded hello announcements
func (m *MockCoordinator) GetHellos() []HelloCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]HelloCall{}, m.Hellos...)
}

// GetReadies returns the session IDs of all recorded ready signals
func (m *MockCoordinator) GetReadies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.Readies...)
}

// GetDisconnects returns the session IDs of all recorded disconnects
func (m *MockCoordinator) GetDisconnects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.Disconnects...)
}
