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

// OrganizationRepository handles database operations for skate schools
type OrganizationRepository struct {
	db *database.DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *database.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// Create stores a new organization
func (r *OrganizationRepository) Create(ctx context.Context, name string) (*models.Organization, error) {
	org := &models.Organization{ID: uuid.NewString(), Name: name, CreatedAt: now()}
	query := "INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)"
	if _, err := r.db.ExecContext(ctx, query, org.ID, org.Name, org.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", r.db.Classify(err))
	}
	return org, nil
}

// GetByID retrieves an organization
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	query := "SELECT id, name, created_at FROM organizations WHERE id = ?"
	err := r.db.QueryRowContext(ctx, query, id).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", r.db.Classify(err))
	}
	return &org, nil
}
