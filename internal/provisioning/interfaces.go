// Package provisioning turns an approved family request into login identities,
// profiles and student records, undoing partial work when a child fails.
package provisioning

import (
	"context"
	"time"

	"eleve/internal/models"
)

// HandleDirectory is anything that can say whether a username is taken
type HandleDirectory interface {
	HandleExists(ctx context.Context, handle string) (bool, error)
}

// IdentityBinder creates and removes login identities
type IdentityBinder interface {
	CreateIdentity(ctx context.Context, handle, secret string, attrs models.IdentityAttributes) (string, error)
	DeleteIdentity(ctx context.Context, id string) error
}

// ProfileWriter creates and removes directory profiles
type ProfileWriter interface {
	CreateProfile(ctx context.Context, identityID string, p models.Profile) (string, error)
	DeleteProfile(ctx context.Context, id string) error
}

// DomainRecordWriter creates and removes student records
type DomainRecordWriter interface {
	Precheck(child models.ChildSpec) error
	CreateStudent(ctx context.Context, profileID string, s models.Student) (string, error)
	DeleteStudent(ctx context.Context, id string) error
}

// ApprovalStore loads and transitions approval requests
type ApprovalStore interface {
	GetByID(ctx context.Context, id string) (*models.FamilyApprovalRequest, error)
	UpdateStatus(ctx context.Context, id string, from, to models.ApprovalStatus, actorID string, at time.Time) error
	RecordRejection(ctx context.Context, id, actorID, reason string, at time.Time) error
	GetNotificationContext(ctx context.Context, parentID, organizationID string) (*models.NotificationContext, error)
}

// Notifier tells the parent how their request ended
type Notifier interface {
	SendApproval(ctx context.Context, to models.Contact, organizationName string, result *models.ApprovalResult) error
	SendRejection(ctx context.Context, to models.Contact, organizationName, requestID, reason string) error
}

// ChildProvisioner provisions a single child, and removes one again when
// the request it belongs to cannot be marked approved
type ChildProvisioner interface {
	Provision(ctx context.Context, target Target, child models.ChildSpec) (*models.ProvisionedAccount, []models.RollbackWarning, error)
	Unprovision(ctx context.Context, target Target, account models.ProvisionedAccount) []models.RollbackWarning
}
