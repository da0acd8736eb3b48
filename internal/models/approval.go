package models

import "time"

// ApprovalStatus is the lifecycle state of a family approval request
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// SkillLevel is the skater's self-reported level
type SkillLevel string

const (
	SkillBeginner     SkillLevel = "beginner"
	SkillIntermediate SkillLevel = "intermediate"
	SkillAdvanced     SkillLevel = "advanced"
)

// ChildSpec is one child as submitted by the parent. It is a value, not an entity.
type ChildSpec struct {
	Name       string     `json:"name" validate:"required,max=100"`
	Age        int        `json:"age" validate:"min=1,max=18"`
	SkillLevel SkillLevel `json:"skill_level" validate:"required,oneof=beginner intermediate advanced"`
	Notes      string     `json:"notes,omitempty" validate:"max=1000"`
}

// FamilyApprovalRequest is one parent's "add my children" submission
type FamilyApprovalRequest struct {
	ID              string
	ParentID        string
	OrganizationID  string
	Children        []ChildSpec
	Status          ApprovalStatus
	ApprovedBy      *string
	ApprovedAt      *time.Time
	// RejectionReason is set only for rejected requests
	RejectionReason string
	CreatedAt       time.Time
}

// IsPending reports whether the request can still be approved or rejected
func (r *FamilyApprovalRequest) IsPending() bool {
	return r.Status == ApprovalStatusPending
}

// Contact is the parent address used for outcome notifications
type Contact struct {
	Name  string
	Email string
}

// NotificationContext is what the dispatcher needs besides the result itself
type NotificationContext struct {
	Parent           Contact
	OrganizationName string
}

// Organization is a skate school
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}
