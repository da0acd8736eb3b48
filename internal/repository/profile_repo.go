package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"eleve/internal/database"
	"eleve/internal/errs"
	"eleve/internal/models"
)

// ProfileRepository handles database operations for directory profiles
type ProfileRepository struct {
	db *database.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// CreateProfile stores a profile linked to identityID and returns the new profile ID.
// An empty identityID is stored as NULL, which is how parent profiles are created.
func (r *ProfileRepository) CreateProfile(ctx context.Context, identityID string, p models.Profile) (string, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO profiles (id, identity_id, username, full_name, role, organization_id, parent_id, email, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		id,
		nullString(identityID),
		nullString(p.Username),
		p.FullName,
		p.Role,
		p.OrganizationID,
		nullString(p.ParentID),
		nullString(p.Email),
		now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create profile: %w", r.db.Classify(err))
	}
	return id, nil
}

// DeleteProfile removes a profile. Deleting a missing profile is not an error.
func (r *ProfileRepository) DeleteProfile(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM profiles WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete profile: %w", r.db.Classify(err))
	}
	return nil
}

// HandleExists reports whether any profile already uses the username
func (r *ProfileRepository) HandleExists(ctx context.Context, handle string) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles WHERE username = ?", handle).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check username: %w", r.db.Classify(err))
	}
	return count > 0, nil
}

// GetByID retrieves a profile
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `
		SELECT id, identity_id, username, full_name, role, organization_id, parent_id, email, created_at
		FROM profiles
		WHERE id = ?
	`
	var p models.Profile
	var identityID, username, parentID, email sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&identityID,
		&username,
		&p.FullName,
		&p.Role,
		&p.OrganizationID,
		&parentID,
		&email,
		&p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", r.db.Classify(err))
	}
	p.IdentityID = identityID.String
	p.Username = username.String
	p.ParentID = parentID.String
	p.Email = email.String
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
