package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"bumplink/internal/domain"
)

// Both sides of an exchange share the match token, so uniqueness is
// enforced per (match_token, owner_session)
const contactUniqueConstraint = "contacts_match_token_owner_session_key"

// ContactRepository implements domain.ContactRepository for PostgreSQL
type ContactRepository struct {
	db *sql.DB
}

// NewContactRepository creates a new PostgreSQL contact repository
func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Create inserts a new saved contact. Channels and colors are stored as
// JSONB documents. A second insert for the same exchange and owner
// returns domain.ErrDuplicateContact.
func (r *ContactRepository) Create(ctx context.Context, contact *domain.SavedContact) error {
	channels, err := json.Marshal(contact.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}
	colors, err := json.Marshal(contact.Colors)
	if err != nil {
		return fmt.Errorf("failed to encode colors: %w", err)
	}

	query := `
		INSERT INTO contacts (owner_session, match_token, display_name, channels, colors)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, saved_at
	`
	err = r.db.QueryRowContext(ctx, query,
		contact.OwnerSession,
		contact.MatchToken,
		contact.DisplayName,
		string(channels),
		string(colors),
	).Scan(&contact.ID, &contact.SavedAt)

	if err != nil {
		if IsUniqueViolation(err, contactUniqueConstraint) {
			return domain.ErrDuplicateContact
		}
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// GetByID retrieves a saved contact by ID
func (r *ContactRepository) GetByID(ctx context.Context, id string) (*domain.SavedContact, error) {
	query := `
		SELECT id, owner_session, match_token, display_name, channels, colors, saved_at
		FROM contacts
		WHERE id = $1
	`
	contact := &domain.SavedContact{}
	var channels, colors []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&contact.ID,
		&contact.OwnerSession,
		&contact.MatchToken,
		&contact.DisplayName,
		&channels,
		&colors,
		&contact.SavedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	if err := json.Unmarshal(channels, &contact.Channels); err != nil {
		return nil, fmt.Errorf("failed to decode channels: %w", err)
	}
	if len(colors) > 0 {
		if err := json.Unmarshal(colors, &contact.Colors); err != nil {
			return nil, fmt.Errorf("failed to decode colors: %w", err)
		}
	}
	return contact, nil
}

// GetByExchange retrieves the contact one side saved for an exchange.
// Used to replay the original result when a save request is retried.
func (r *ContactRepository) GetByExchange(ctx context.Context, matchToken, ownerSession string) (*domain.SavedContact, error) {
	query := `
		SELECT id, owner_session, match_token, display_name, channels, colors, saved_at
		FROM contacts
		WHERE match_token = $1 AND owner_session = $2
	`
	contact := &domain.SavedContact{}
	var channels, colors []byte
	err := r.db.QueryRowContext(ctx, query, matchToken, ownerSession).Scan(
		&contact.ID,
		&contact.OwnerSession,
		&contact.MatchToken,
		&contact.DisplayName,
		&channels,
		&colors,
		&contact.SavedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact by exchange: %w", err)
	}

	if err := json.Unmarshal(channels, &contact.Channels); err != nil {
		return nil, fmt.Errorf("failed to decode channels: %w", err)
	}
	if len(colors) > 0 {
		if err := json.Unmarshal(colors, &contact.Colors); err != nil {
			return nil, fmt.Errorf("failed to decode colors: %w", err)
		}
	}
	return contact, nil
}

// ListRecent retrieves a session's saved contacts, newest first
func (r *ContactRepository) ListRecent(ctx context.Context, ownerSession string, limit int) ([]*domain.SavedContact, error) {
	query := `
		SELECT id, owner_session, match_token, display_name, channels, colors, saved_at
		FROM contacts
		WHERE owner_session = $1
		ORDER BY saved_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, ownerSession, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]*domain.SavedContact, 0, limit)
	for rows.Next() {
		contact := &domain.SavedContact{}
		var channels, colors []byte
		err := rows.Scan(
			&contact.ID,
			&contact.OwnerSession,
			&contact.MatchToken,
			&contact.DisplayName,
			&channels,
			&colors,
			&contact.SavedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}

		if err := json.Unmarshal(channels, &contact.Channels); err != nil {
			return nil, fmt.Errorf("failed to decode channels: %w", err)
		}
		if len(colors) > 0 {
			if err := json.Unmarshal(colors, &contact.Colors); err != nil {
				return nil, fmt.Errorf("failed to decode colors: %w", err)
			}
		}
		contacts = append(contacts, contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}
	return contacts, nil
}

// Delete removes a saved contact by ID
func (r *ContactRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM contacts WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrContactNotFound
	}
	return nil
}
