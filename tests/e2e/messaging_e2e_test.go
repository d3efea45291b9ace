//go:build e2e
// +build e2e

package e2e

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

// auditEvent mirrors the audit stream's JSON payload
type auditEvent struct {
	SessionID   string `json:"session_id"`
	PeerSession string `json:"peer_session"`
	Token       string `json:"token"`
	DisplayName string `json:"display_name"`
	Timestamp   int64  `json:"timestamp"`
}

// TestAudit_ContactSavedEvent verifies a completed save lands on the
// durable audit stream
func TestAudit_ContactSavedEvent(t *testing.T) {
	msgs, err := rmq.ConsumeAuditEvents()
	assertNoError(t, err, "consume audit events")

	alice, bob, aliceMatch, _ := matchedPair(t, "audit")
	defer alice.Close()
	defer bob.Close()

	status := acceptMatch(t, alice.SessionID, aliceMatch.Token)
	assertEqual(t, status, http.StatusNoContent, "accept status")

	_, status = saveContact(t, alice.SessionID, aliceMatch.Token, *aliceMatch.Peer)
	assertEqual(t, status, http.StatusCreated, "save status")

	// The durable queue accumulates events from the whole run, so scan
	// for this test's token and ack everything consumed along the way
	deadline := time.After(10 * time.Second)
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				t.Fatal("audit event channel closed")
			}

			var event auditEvent
			if err := json.Unmarshal(msg.Body, &event); err != nil {
				t.Fatalf("failed to decode audit event: %v", err)
			}
			msg.Ack(false)

			if event.Token != aliceMatch.Token {
				continue
			}

			assertEqual(t, event.SessionID, alice.SessionID, "audit session")
			assertEqual(t, event.PeerSession, bob.SessionID, "audit peer session")
			assertEqual(t, event.DisplayName, "Bob", "audit display name")
			if event.Timestamp == 0 {
				t.Error("expected a non-zero audit timestamp")
			}
			return

		case <-deadline:
			t.Fatal("timed out waiting for the audit event")
		}
	}
}

// TestReceipts_UnknownSessionTolerated verifies a receipt addressed to
// a session with no live connection is dropped without harm
func TestReceipts_UnknownSessionTolerated(t *testing.T) {
	err := rmq.PublishReceipt(testContext, uniqueSession("nobody"), "tok-ghost", "peer_saved")
	assertNoError(t, err, "publish ghost receipt")

	// Give the consumer a moment to pick it up and discard it
	time.Sleep(500 * time.Millisecond)

	resp, err := testClient.Get(baseURL + "/health")
	assertNoError(t, err, "health request")
	resp.Body.Close()
	assertEqual(t, resp.StatusCode, http.StatusOK, "health status")

	// The consumer and hub still serve real sessions
	alice, bob, _, _ := matchedPair(t, "ghost-after")
	alice.Close()
	bob.Close()
}
