// Package contactstore persists accepted contacts through the contact
// service's REST interface.
package contactstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bumplink/internal/domain"
)

// HTTPStore implements domain.ContactStore against the contact service
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a store for the service at baseURL
func New(baseURL string) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type saveRequest struct {
	SessionID  string             `json:"session_id"`
	MatchToken string             `json:"match_token"`
	Profile    domain.PeerProfile `json:"profile"`
}

// Save persists the peer profile for the given exchange. The service
// answers a replayed save with the already-stored row, so retrying
// after a lost response is safe.
func (s *HTTPStore) Save(ctx context.Context, sessionID string, profile domain.PeerProfile, matchToken string) (*domain.SavedContact, error) {
	body, err := json.Marshal(saveRequest{
		SessionID:  sessionID,
		MatchToken: matchToken,
		Profile:    profile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode contact: %w", err)
	}

	// Retry logic with linear backoff
	var resp *http.Response
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/contacts", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create save request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, lastErr = s.httpClient.Do(req)
		if lastErr == nil && resp.StatusCode < http.StatusInternalServerError {
			break
		}
		if resp != nil {
			resp.Body.Close()
			lastErr = fmt.Errorf("service returned status %d", resp.StatusCode)
		}
		if attempt < 3 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("contact not saved after 3 attempts: %w", lastErr)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		return nil, domain.ErrDuplicateContact
	default:
		return nil, fmt.Errorf("save rejected with status %d", resp.StatusCode)
	}

	var contact domain.SavedContact
	if err := json.NewDecoder(resp.Body).Decode(&contact); err != nil {
		return nil, fmt.Errorf("failed to decode saved contact: %w", err)
	}
	return &contact, nil
}
