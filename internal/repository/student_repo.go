package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"eleve/internal/database"
	"eleve/internal/models"
	"eleve/internal/validation"
)

// StudentRepository handles database operations for student records
type StudentRepository struct {
	db *database.DB
}

// NewStudentRepository creates a new student repository
func NewStudentRepository(db *database.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// Precheck validates a child before anything is written for it. It does no I/O.
func (r *StudentRepository) Precheck(child models.ChildSpec) error {
	return validation.ValidateChild(child)
}

// CreateStudent stores the student record for profileID and returns its ID
func (r *StudentRepository) CreateStudent(ctx context.Context, profileID string, s models.Student) (string, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO students (id, profile_id, organization_id, parent_id, approval_request_id, age, skill_level, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		id,
		profileID,
		s.OrganizationID,
		nullString(s.ParentID),
		nullString(s.ApprovalRequestID),
		s.Age,
		string(s.SkillLevel),
		s.Notes,
		now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create student: %w", r.db.Classify(err))
	}
	return id, nil
}

// DeleteStudent removes a student record. Deleting a missing record is not an error.
func (r *StudentRepository) DeleteStudent(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM students WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete student: %w", r.db.Classify(err))
	}
	return nil
}

// ListByApprovalRequest returns the students created for one request, oldest first
func (r *StudentRepository) ListByApprovalRequest(ctx context.Context, requestID string) ([]models.Student, error) {
	query := `
		SELECT id, profile_id, organization_id, parent_id, age, skill_level, notes, created_at
		FROM students
		WHERE approval_request_id = ?
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", r.db.Classify(err))
	}
	defer rows.Close()

	var students []models.Student
	for rows.Next() {
		var (
			s        models.Student
			parentID sql.NullString
		)
		if err := rows.Scan(
			&s.ID,
			&s.ProfileID,
			&s.OrganizationID,
			&parentID,
			&s.Age,
			&s.SkillLevel,
			&s.Notes,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		s.ParentID = parentID.String
		s.ApprovalRequestID = requestID
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate students: %w", r.db.Classify(err))
	}

	return students, nil
}
