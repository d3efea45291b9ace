//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Wire types. The tests speak the service's JSON contract directly
// instead of importing the internal types it is built from.

type Channel struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type Profile struct {
	DisplayName string    `json:"display_name"`
	Channels    []Channel `json:"channels"`
	Colors      []string  `json:"colors,omitempty"`
}

// Envelope carries every field either direction of the session channel
// uses; unused ones stay empty
type Envelope struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id,omitempty"`
	Token     string   `json:"token,omitempty"`
	Profile   *Profile `json:"profile,omitempty"`
	Peer      *Profile `json:"peer,omitempty"`
	Event     string   `json:"event,omitempty"`
	Message   string   `json:"message,omitempty"`
}

type Contact struct {
	ID           string    `json:"id"`
	OwnerSession string    `json:"owner_session"`
	MatchToken   string    `json:"match_token"`
	DisplayName  string    `json:"display_name"`
	Channels     []Channel `json:"channels"`
	Colors       []string  `json:"colors,omitempty"`
	SavedAt      string    `json:"saved_at"`
}

type ContactList struct {
	Contacts []Contact `json:"contacts"`
}

// ExchangeClient is one device's connection to the session channel
type ExchangeClient struct {
	t         *testing.T
	conn      *websocket.Conn
	mu        sync.Mutex
	envelopes chan Envelope
	done      chan struct{}
	SessionID string
	Profile   Profile
}

// connectExchange opens the session channel for one device
func connectExchange(t *testing.T, sessionID string, profile Profile) *ExchangeClient {
	t.Helper()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(wsURL+"/ws/exchange", nil)
	if err != nil {
		t.Fatalf("failed to connect to exchange channel: %v", err)
	}

	ec := &ExchangeClient{
		t:         t,
		conn:      conn,
		envelopes: make(chan Envelope, 100),
		done:      make(chan struct{}),
		SessionID: sessionID,
		Profile:   profile,
	}

	go ec.readLoop()

	return ec
}

// readLoop reads envelopes from the session channel
func (ec *ExchangeClient) readLoop() {
	defer close(ec.envelopes)

	for {
		select {
		case <-ec.done:
			return
		default:
			_, data, err := ec.conn.ReadMessage()
			if err != nil {
				// Connection closed
				return
			}

			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				ec.t.Logf("failed to unmarshal envelope: %v", err)
				continue
			}

			select {
			case ec.envelopes <- env:
			default:
				ec.t.Log("envelope channel full, dropping envelope")
			}
		}
	}
}

// Hello announces the session and its shareable profile
func (ec *ExchangeClient) Hello() error {
	return ec.sendEnvelope(Envelope{
		Type:      "hello",
		SessionID: ec.SessionID,
		Profile:   &ec.Profile,
	})
}

// Ready signals that this device just felt a bump
func (ec *ExchangeClient) Ready() error {
	return ec.sendEnvelope(Envelope{
		Type:      "ready",
		SessionID: ec.SessionID,
	})
}

// ReadyAs signals ready under a different session id, for testing the
// service's handling of mismatched announcements
func (ec *ExchangeClient) ReadyAs(sessionID string) error {
	return ec.sendEnvelope(Envelope{
		Type:      "ready",
		SessionID: sessionID,
	})
}

func (ec *ExchangeClient) sendEnvelope(env Envelope) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	return ec.conn.WriteJSON(env)
}

// SendRaw writes an arbitrary payload down the channel
func (ec *ExchangeClient) SendRaw(data []byte) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	return ec.conn.WriteMessage(websocket.TextMessage, data)
}

// WaitForEnvelope waits for an envelope matching the predicate
func (ec *ExchangeClient) WaitForEnvelope(timeout time.Duration, predicate func(Envelope) bool) (*Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case env, ok := <-ec.envelopes:
			if !ok {
				return nil, fmt.Errorf("connection closed while waiting for envelope")
			}
			if predicate(env) {
				return &env, nil
			}
		case <-timer.C:
			return nil, fmt.Errorf("timeout waiting for envelope")
		}
	}
}

// WaitForMatch waits for the match envelope
func (ec *ExchangeClient) WaitForMatch(timeout time.Duration) (*Envelope, error) {
	return ec.WaitForEnvelope(timeout, func(env Envelope) bool {
		return env.Type == "match"
	})
}

// WaitForReceipt waits for a receipt envelope carrying the given event
func (ec *ExchangeClient) WaitForReceipt(event string, timeout time.Duration) (*Envelope, error) {
	return ec.WaitForEnvelope(timeout, func(env Envelope) bool {
		return env.Type == "receipt" && env.Event == event
	})
}

// ExpectNoEnvelope fails the test if anything arrives within the window
func (ec *ExchangeClient) ExpectNoEnvelope(window time.Duration) {
	ec.t.Helper()

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case env, ok := <-ec.envelopes:
		if ok {
			ec.t.Errorf("expected silence, got envelope type %q", env.Type)
		}
	case <-timer.C:
	}
}

// DrainEnvelopes clears all pending envelopes
func (ec *ExchangeClient) DrainEnvelopes() {
	for {
		select {
		case <-ec.envelopes:
		default:
			return
		}
	}
}

// Close closes the session channel
func (ec *ExchangeClient) Close() error {
	close(ec.done)
	ec.mu.Lock()
	defer ec.mu.Unlock()

	return ec.conn.Close()
}

// REST helpers

// postJSON makes a POST request with a JSON body
func postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()

	jsonBody, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := testClient.Do(req)
	if err != nil {
		t.Fatalf("request to %s failed: %v", path, err)
	}
	return resp
}

// acceptMatch posts the accept handshake and returns the status code
func acceptMatch(t *testing.T, sessionID, token string) int {
	t.Helper()

	resp := postJSON(t, "/v1/matches/accept", map[string]string{
		"session_id": sessionID,
		"token":      token,
	})
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// rejectMatch posts the reject handshake and returns the status code
func rejectMatch(t *testing.T, sessionID, token string) int {
	t.Helper()

	resp := postJSON(t, "/v1/matches/reject", map[string]string{
		"session_id": sessionID,
		"token":      token,
	})
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// saveContact posts a contact save and decodes the stored row when the
// service answers 200 or 201
func saveContact(t *testing.T, sessionID, token string, profile Profile) (*Contact, int) {
	t.Helper()

	resp := postJSON(t, "/v1/contacts", map[string]any{
		"session_id":  sessionID,
		"match_token": token,
		"profile":     profile,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode
	}

	var contact Contact
	if err := json.NewDecoder(resp.Body).Decode(&contact); err != nil {
		t.Fatalf("failed to decode saved contact: %v", err)
	}
	return &contact, resp.StatusCode
}

// listContacts fetches a session's saved contacts
func listContacts(t *testing.T, sessionID string, limit int) (*ContactList, int) {
	t.Helper()

	url := fmt.Sprintf("%s/v1/contacts?session_id=%s", baseURL, sessionID)
	if limit > 0 {
		url = fmt.Sprintf("%s&limit=%d", url, limit)
	}

	resp, err := testClient.Get(url)
	if err != nil {
		t.Fatalf("list contacts failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode
	}

	var list ContactList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode contact list: %v", err)
	}
	return &list, resp.StatusCode
}

// getContact fetches one saved contact by id
func getContact(t *testing.T, id string) (*Contact, int) {
	t.Helper()

	resp, err := testClient.Get(baseURL + "/v1/contacts/" + id)
	if err != nil {
		t.Fatalf("get contact failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode
	}

	var contact Contact
	if err := json.NewDecoder(resp.Body).Decode(&contact); err != nil {
		t.Fatalf("failed to decode contact: %v", err)
	}
	return &contact, resp.StatusCode
}

// deleteContact removes a saved contact and returns the status code
func deleteContact(t *testing.T, id string) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodDelete, baseURL+"/v1/contacts/"+id, nil)
	if err != nil {
		t.Fatalf("failed to create delete request: %v", err)
	}

	resp, err := testClient.Do(req)
	if err != nil {
		t.Fatalf("delete contact failed: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// Test helpers

// uniqueSession generates a unique session id for testing
func uniqueSession(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// profileFor builds a minimal valid profile for the given name
func profileFor(name string) Profile {
	return Profile{
		DisplayName: name,
		Channels: []Channel{
			{Kind: "email", Value: strings.ToLower(name) + "@example.com"},
		},
		Colors: []string{"#1f6feb", "#d29922"},
	}
}

// matchedPair connects two sessions, bumps them together and returns
// both clients along with their match envelopes. Callers own closing
// the clients.
func matchedPair(t *testing.T, prefix string) (*ExchangeClient, *ExchangeClient, *Envelope, *Envelope) {
	t.Helper()

	alice := connectExchange(t, uniqueSession(prefix+"-alice"), profileFor("Alice"))
	bob := connectExchange(t, uniqueSession(prefix+"-bob"), profileFor("Bob"))

	assertNoError(t, alice.Hello(), "alice hello")
	assertNoError(t, bob.Hello(), "bob hello")

	// Each connection processes its own frames in order, so ready can
	// follow hello without waiting for an acknowledgement
	assertNoError(t, alice.Ready(), "alice ready")
	assertNoError(t, bob.Ready(), "bob ready")

	aliceMatch, err := alice.WaitForMatch(5 * time.Second)
	assertNoError(t, err, "alice did not receive a match")
	bobMatch, err := bob.WaitForMatch(5 * time.Second)
	assertNoError(t, err, "bob did not receive a match")

	return alice, bob, aliceMatch, bobMatch
}

// assertNoError fails the test if err is not nil
func assertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// assertEqual checks if two values are equal
func assertEqual[T comparable](t *testing.T, got, want T, msg string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", msg, got, want)
	}
}
