package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eleve/internal/database"
	"eleve/internal/errs"
	"eleve/internal/models"
)

// ApprovalRepository handles database operations for family approval requests
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// Create stores a new pending request for a parent's children
func (r *ApprovalRepository) Create(ctx context.Context, parentID, organizationID string, children []models.ChildSpec) (*models.FamilyApprovalRequest, error) {
	childrenJSON, err := json.Marshal(children)
	if err != nil {
		return nil, fmt.Errorf("failed to encode children: %w", err)
	}

	req := &models.FamilyApprovalRequest{
		ID:             uuid.NewString(),
		ParentID:       parentID,
		OrganizationID: organizationID,
		Children:       children,
		Status:         models.ApprovalStatusPending,
		CreatedAt:      now(),
	}

	query := `
		INSERT INTO family_approval_requests (id, parent_id, organization_id, children_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query, req.ID, parentID, organizationID, string(childrenJSON), string(req.Status), req.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", r.db.Classify(err))
	}

	return req, nil
}

// GetByID retrieves a request. A missing request is errs.ErrNotFound.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.FamilyApprovalRequest, error) {
	query := `
		SELECT id, parent_id, organization_id, children_json, status, approved_by, approved_at, rejection_reason, created_at
		FROM family_approval_requests
		WHERE id = ?
	`
	var (
		req          models.FamilyApprovalRequest
		childrenJSON string
		approvedBy   sql.NullString
		approvedAt   sql.NullTime
		reason       sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&req.ID,
		&req.ParentID,
		&req.OrganizationID,
		&childrenJSON,
		&req.Status,
		&approvedBy,
		&approvedAt,
		&reason,
		&req.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval request %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", r.db.Classify(err))
	}

	if err := json.Unmarshal([]byte(childrenJSON), &req.Children); err != nil {
		return nil, fmt.Errorf("failed to decode children of request %s: %w", id, err)
	}
	if approvedBy.Valid {
		req.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		t := approvedAt.Time.UTC()
		req.ApprovedAt = &t
	}
	req.RejectionReason = reason.String
	req.CreatedAt = req.CreatedAt.UTC()

	return &req, nil
}

// UpdateStatus moves a request from one status to another, recording who did it.
// It only succeeds while the request is still in the from status, so two
// administrators racing on the same request cannot both win.
func (r *ApprovalRepository) UpdateStatus(ctx context.Context, id string, from, to models.ApprovalStatus, actorID string, at time.Time) error {
	query := `
		UPDATE family_approval_requests
		SET status = ?, approved_by = ?, approved_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := r.db.ExecContext(ctx, query, string(to), actorID, at.UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update approval status: %w", r.db.Classify(err))
	}
	return r.checkTransition(ctx, result, id)
}

// RecordRejection moves a pending request to rejected with the administrator's reason
func (r *ApprovalRepository) RecordRejection(ctx context.Context, id, actorID, reason string, at time.Time) error {
	query := `
		UPDATE family_approval_requests
		SET status = ?, approved_by = ?, approved_at = ?, rejection_reason = ?
		WHERE id = ? AND status = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		string(models.ApprovalStatusRejected), actorID, at.UTC(), reason, id, string(models.ApprovalStatusPending))
	if err != nil {
		return fmt.Errorf("failed to reject approval request: %w", r.db.Classify(err))
	}
	return r.checkTransition(ctx, result, id)
}

// checkTransition turns a conditional update that touched no rows into
// ErrNotFound or ErrAlreadyProcessed
func (r *ApprovalRepository) checkTransition(ctx context.Context, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", r.db.Classify(err))
	}
	if rows > 0 {
		return nil
	}

	var status models.ApprovalStatus
	err = r.db.QueryRowContext(ctx, "SELECT status FROM family_approval_requests WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("approval request %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read approval status: %w", r.db.Classify(err))
	}
	return fmt.Errorf("approval request %s is %s: %w", id, status, errs.ErrAlreadyProcessed)
}

// ExpireStale marks pending requests created before cutoff as expired and
// returns how many were changed
func (r *ApprovalRepository) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := "UPDATE family_approval_requests SET status = ? WHERE status = ? AND created_at < ?"
	result, err := r.db.ExecContext(ctx, query, string(models.ApprovalStatusExpired), string(models.ApprovalStatusPending), cutoff.UTC().Truncate(time.Second))
	if err != nil {
		return 0, fmt.Errorf("failed to expire approval requests: %w", r.db.Classify(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired requests: %w", r.db.Classify(err))
	}
	return rows, nil
}

// GetNotificationContext returns the parent's contact details and the school name
func (r *ApprovalRepository) GetNotificationContext(ctx context.Context, parentID, organizationID string) (*models.NotificationContext, error) {
	query := `
		SELECT p.full_name, p.email, o.name
		FROM profiles p, organizations o
		WHERE p.id = ? AND o.id = ?
	`
	var (
		nc    models.NotificationContext
		email sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, parentID, organizationID).Scan(&nc.Parent.Name, &email, &nc.OrganizationName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("parent %s in organization %s: %w", parentID, organizationID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notification context: %w", r.db.Classify(err))
	}
	nc.Parent.Email = email.String
	return &nc, nil
}

// now returns the current time as stored by the repositories
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
