package models

import "time"

// ProvisionedAccount links the three records created for one child.
// All three keys exist together or none do.
type ProvisionedAccount struct {
	Child          ChildSpec
	IdentityID     string
	ProfileID      string
	DomainRecordID string
	Username       string
	Secret         string
}

// ChildFailure records why one child could not be provisioned
type ChildFailure struct {
	Child  ChildSpec
	Reason string
	Err    error
}

// RollbackWarning is a compensation step that failed and left a record behind
type RollbackWarning struct {
	Child      ChildSpec
	Step       string
	ResourceID string
	Err        error
}

// ApprovalResult summarises one saga run. It is not persisted.
type ApprovalResult struct {
	RequestID   string
	Accounts    []ProvisionedAccount
	Failures    []ChildFailure
	Warnings    []RollbackWarning
	Status      ApprovalStatus
	ProcessedAt time.Time
}

// ApprovedCount returns the number of children that got a full account
func (r *ApprovalResult) ApprovedCount() int {
	return len(r.Accounts)
}

// Profile roles
const (
	RoleParent  = "parent"
	RoleStudent = "student"
)

// IdentityAttributes travel with a new login identity
type IdentityAttributes struct {
	FullName       string `json:"full_name"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id"`
	ParentID       string `json:"parent_id,omitempty"`
}

// Profile is the lightweight directory profile linked to a login identity
type Profile struct {
	ID             string
	IdentityID     string
	Username       string
	FullName       string
	Role           string
	OrganizationID string
	ParentID       string
	Email          string
	CreatedAt      time.Time
}

// Student is the skate-school domain record linked to a profile
type Student struct {
	ID                string
	ProfileID         string
	OrganizationID    string
	ParentID          string
	ApprovalRequestID string
	Age               int
	SkillLevel        SkillLevel
	Notes             string
	CreatedAt         time.Time
}
