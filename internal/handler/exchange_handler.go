package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"bumplink/internal/domain"
	"bumplink/internal/service"
	ws "bumplink/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		// In production, check against allowed origins
		return true
	},
}

// ExchangeHandler handles the exchange channel upgrade, the match
// handshake and the contact endpoints
type ExchangeHandler struct {
	exchangeService *service.ExchangeService
	hub             *ws.Hub
}

// NewExchangeHandler creates a new exchange handler
func NewExchangeHandler(exchangeService *service.ExchangeService, hub *ws.Hub) *ExchangeHandler {
	return &ExchangeHandler{
		exchangeService: exchangeService,
		hub:             hub,
	}
}

// HandshakeRequest represents an accept or reject call for a match
type HandshakeRequest struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// SaveContactRequest represents a contact save request
type SaveContactRequest struct {
	SessionID  string             `json:"session_id"`
	MatchToken string             `json:"match_token"`
	Profile    domain.PeerProfile `json:"profile"`
}

// HandleChannel upgrades the connection to the websocket exchange
// channel. The session identifies itself with its first envelope, so
// the upgrade itself carries no parameters.
func (h *ExchangeHandler) HandleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		return
	}

	// The request context dies when this handler returns; the client
	// outlives it
	client := ws.NewClient(context.Background(), h.hub, conn, h.exchangeService)

	go client.WritePump()
	go client.ReadPump()
}

// Accept confirms a match for one side
func (h *ExchangeHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req HandshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.exchangeService.AcceptMatch(r.Context(), req.SessionID, req.Token); err != nil {
		writeExchangeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Reject declines a match for one side
func (h *ExchangeHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req HandshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.exchangeService.RejectMatch(r.Context(), req.SessionID, req.Token); err != nil {
		writeExchangeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SaveContact persists an accepted peer card. Replays of an already
// persisted save answer 200 with the stored row instead of 201.
func (h *ExchangeHandler) SaveContact(w http.ResponseWriter, r *http.Request) {
	var req SaveContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
		return
	}

	contact, created, err := h.exchangeService.SaveContact(r.Context(), req.SessionID, req.MatchToken, req.Profile)
	if err != nil {
		writeExchangeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(contact)
}

// ListContacts retrieves the most recent contacts saved by a session
func (h *ExchangeHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, `{"error":"session_id required"}`, http.StatusBadRequest)
		return
	}

	// Get limit from query parameter
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil {
			limit = parsedLimit
		}
	}

	contacts, err := h.exchangeService.ListContacts(r.Context(), sessionID, limit)
	if err != nil {
		http.Error(w, `{"error":"Failed to retrieve contacts"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"contacts": contacts,
	})
}

// GetContact retrieves a single saved contact
func (h *ExchangeHandler) GetContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, `{"error":"Contact ID required"}`, http.StatusBadRequest)
		return
	}

	contact, err := h.exchangeService.GetContact(r.Context(), id)
	if err != nil {
		writeExchangeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(contact)
}

// DeleteContact removes a saved contact
func (h *ExchangeHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, `{"error":"Contact ID required"}`, http.StatusBadRequest)
		return
	}

	if err := h.exchangeService.DeleteContact(r.Context(), id); err != nil {
		writeExchangeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeExchangeError maps service errors to HTTP statuses
func writeExchangeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidProfile):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPairingNotFound), errors.Is(err, domain.ErrContactNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrPairingResolved), errors.Is(err, domain.ErrDuplicateContact):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrRegistryFull):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, `{"error":"`+err.Error()+`"}`, status)
}
