package contactstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bumplink/internal/domain"
	"bumplink/internal/testutil"
)

func TestSave_PersistsContact(t *testing.T) {
	var gotBody saveRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.URL.Path, "/v1/contacts")
		testutil.AssertEqual(t, r.Method, http.MethodPost)
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode save body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(domain.SavedContact{
			ID:           "contact-1",
			OwnerSession: gotBody.SessionID,
			MatchToken:   gotBody.MatchToken,
			DisplayName:  gotBody.Profile.DisplayName,
			Channels:     gotBody.Profile.Channels,
			Colors:       gotBody.Profile.Colors,
			SavedAt:      time.Now(),
		})
	}))
	defer server.Close()

	store := New(server.URL)
	profile := testutil.NewTestProfile(testutil.WithDisplayName("Grace"))

	contact, err := store.Save(context.Background(), "sess-1", profile, "tok-1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, contact.ID, "contact-1")
	testutil.AssertEqual(t, contact.OwnerSession, "sess-1")
	testutil.AssertEqual(t, contact.MatchToken, "tok-1")
	testutil.AssertEqual(t, contact.DisplayName, "Grace")
	testutil.AssertEqual(t, gotBody.SessionID, "sess-1")
	testutil.AssertEqual(t, gotBody.MatchToken, "tok-1")
}

func TestSave_ReplayedSaveReturnsExistingRow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the service answers a replay with 200 and the stored row
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(testutil.NewTestContact(
			testutil.WithContactID("contact-existing"),
			testutil.WithMatchToken("tok-1"),
		))
	}))
	defer server.Close()

	store := New(server.URL)
	contact, err := store.Save(context.Background(), "sess-1", testutil.NewTestProfile(), "tok-1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, contact.ID, "contact-existing")
}

func TestSave_ConflictMapsToDuplicate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "already saved", http.StatusConflict)
	}))
	defer server.Close()

	store := New(server.URL)
	_, err := store.Save(context.Background(), "sess-1", testutil.NewTestProfile(), "tok-1")
	testutil.AssertErrorIs(t, err, domain.ErrDuplicateContact)
}

func TestSave_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(testutil.NewTestContact())
	}))
	defer server.Close()

	store := New(server.URL)
	_, err := store.Save(context.Background(), "sess-1", testutil.NewTestProfile(), "tok-1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, attempts.Load(), int32(3))
}

func TestSave_ExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
	}))
	defer server.Close()

	store := New(server.URL)
	_, err := store.Save(context.Background(), "sess-1", testutil.NewTestProfile(), "tok-1")
	testutil.AssertErrorContains(t, err, "after 3 attempts")
}

func TestSave_BadRequestNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "invalid profile", http.StatusBadRequest)
	}))
	defer server.Close()

	store := New(server.URL)
	_, err := store.Save(context.Background(), "sess-1", testutil.NewTestProfile(), "tok-1")
	testutil.AssertErrorContains(t, err, "status 400")
	testutil.AssertEqual(t, attempts.Load(), int32(1))
}

func TestSave_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	store := New(server.URL)
	_, err := store.Save(ctx, "sess-1", testutil.NewTestProfile(), "tok-1")
	testutil.AssertErrorIs(t, err, context.Canceled)
}

func TestSave_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("{truncated"))
	}))
	defer server.Close()

	store := New(server.URL)
	_, err := store.Save(context.Background(), "sess-1", testutil.NewTestProfile(), "tok-1")
	testutil.AssertErrorContains(t, err, "failed to decode saved contact")
}
