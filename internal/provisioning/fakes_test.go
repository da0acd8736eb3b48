package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"eleve/internal/errs"
	"eleve/internal/models"
	"eleve/internal/validation"
)

// memStore plays identity provider, profile store and student store at once.
// Failures are injected per step and child name.
type memStore struct {
	mu         sync.Mutex
	nextID     int
	identities map[string]string // id -> handle
	profiles   map[string]models.Profile
	students   map[string]models.Student

	failCreate map[string]error // "<step>:<child name>" -> error
	failDelete map[string]error // step -> error
	profileLag time.Duration    // CreateProfile waits this long or until ctx ends

	identityWrites   int
	onCreateIdentity func()
}

func newMemStore() *memStore {
	return &memStore{
		identities: make(map[string]string),
		profiles:   make(map[string]models.Profile),
		students:   make(map[string]models.Student),
		failCreate: make(map[string]error),
		failDelete: make(map[string]error),
	}
}

func (m *memStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *memStore) HandleExists(ctx context.Context, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.identities {
		if h == handle {
			return true, nil
		}
	}
	for _, p := range m.profiles {
		if p.Username == handle {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateIdentity(ctx context.Context, handle, secret string, attrs models.IdentityAttributes) (string, error) {
	if m.onCreateIdentity != nil {
		m.onCreateIdentity()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identityWrites++
	if err := m.failCreate[StepIdentity+":"+attrs.FullName]; err != nil {
		return "", err
	}
	for _, h := range m.identities {
		if h == handle {
			return "", errs.ErrDuplicateHandle
		}
	}
	id := m.id("identity")
	m.identities[id] = handle
	return id, nil
}

func (m *memStore) DeleteIdentity(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDelete[StepIdentity]; err != nil {
		return err
	}
	delete(m.identities, id)
	return nil
}

func (m *memStore) CreateProfile(ctx context.Context, identityID string, p models.Profile) (string, error) {
	if m.profileLag > 0 {
		select {
		case <-time.After(m.profileLag):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failCreate[StepProfile+":"+p.FullName]; err != nil {
		return "", err
	}
	p.ID = m.id("profile")
	p.IdentityID = identityID
	m.profiles[p.ID] = p
	return p.ID, nil
}

func (m *memStore) DeleteProfile(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDelete[StepProfile]; err != nil {
		return err
	}
	delete(m.profiles, id)
	return nil
}

func (m *memStore) Precheck(child models.ChildSpec) error {
	return validation.ValidateChild(child)
}

func (m *memStore) CreateStudent(ctx context.Context, profileID string, s models.Student) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[profileID]
	if !ok {
		return "", fmt.Errorf("profile %s: %w", profileID, errs.ErrConflict)
	}
	if err := m.failCreate[StepDomainRecord+":"+profile.FullName]; err != nil {
		return "", err
	}
	s.ID = m.id("student")
	s.ProfileID = profileID
	m.students[s.ID] = s
	return s.ID, nil
}

func (m *memStore) DeleteStudent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDelete[StepDomainRecord]; err != nil {
		return err
	}
	delete(m.students, id)
	return nil
}

func (m *memStore) counts() (identities, profiles, students int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.identities), len(m.profiles), len(m.students)
}

func (m *memStore) hasIdentity(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.identities[id]
	return ok
}

// studentFor returns the student record hanging off the profile
func (m *memStore) studentFor(profileID string) (models.Student, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.ProfileID == profileID {
			return s, true
		}
	}
	return models.Student{}, false
}

func (m *memStore) profile(id string) (models.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	return p, ok
}

// memApprovals is an in-memory approval store
type memApprovals struct {
	mu        sync.Mutex
	requests  map[string]*models.FamilyApprovalRequest
	getErr    error
	updateErr error
	updates   int
}

func newMemApprovals(reqs ...*models.FamilyApprovalRequest) *memApprovals {
	m := &memApprovals{requests: make(map[string]*models.FamilyApprovalRequest)}
	for _, r := range reqs {
		m.requests[r.ID] = r
	}
	return m
}

func (m *memApprovals) GetByID(ctx context.Context, id string) (*models.FamilyApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("approval request %s: %w", id, errs.ErrNotFound)
	}
	cp := *req
	return &cp, nil
}

func (m *memApprovals) transition(id string, from, to models.ApprovalStatus, actorID string, at time.Time) (*models.FamilyApprovalRequest, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	req, ok := m.requests[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if req.Status != from {
		return nil, errs.ErrAlreadyProcessed
	}
	m.updates++
	req.Status = to
	req.ApprovedBy = &actorID
	req.ApprovedAt = &at
	return req, nil
}

func (m *memApprovals) UpdateStatus(ctx context.Context, id string, from, to models.ApprovalStatus, actorID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.transition(id, from, to, actorID, at)
	return err
}

func (m *memApprovals) RecordRejection(ctx context.Context, id, actorID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, err := m.transition(id, models.ApprovalStatusPending, models.ApprovalStatusRejected, actorID, at)
	if err != nil {
		return err
	}
	req.RejectionReason = reason
	return nil
}

func (m *memApprovals) GetNotificationContext(ctx context.Context, parentID, organizationID string) (*models.NotificationContext, error) {
	return &models.NotificationContext{
		Parent:           models.Contact{Name: "Sam Johnson", Email: "sam@example.com"},
		OrganizationName: "Riverside Skate School",
	}, nil
}

func (m *memApprovals) status(id string) models.ApprovalStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[id].Status
}

// recordingNotifier remembers what it was asked to send
type recordingNotifier struct {
	mu         sync.Mutex
	approvals  []*models.ApprovalResult
	rejections []string
	err        error
}

func (n *recordingNotifier) SendApproval(ctx context.Context, to models.Contact, organizationName string, result *models.ApprovalResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approvals = append(n.approvals, result)
	return n.err
}

func (n *recordingNotifier) SendRejection(ctx context.Context, to models.Contact, organizationName, requestID, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejections = append(n.rejections, reason)
	return n.err
}

var errInjected = errors.New("injected failure")

func pendingRequest(id string, children ...models.ChildSpec) *models.FamilyApprovalRequest {
	return &models.FamilyApprovalRequest{
		ID:             id,
		ParentID:       "parent-1",
		OrganizationID: "org-1",
		Children:       children,
		Status:         models.ApprovalStatusPending,
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func child(name string) models.ChildSpec {
	return models.ChildSpec{Name: name, Age: 10, SkillLevel: models.SkillBeginner}
}

func newTestProvisioner(store *memStore) *Provisioner {
	return NewProvisioner(
		NewUsernameAllocator(DefaultMaxAttempts, store),
		store, store, store,
		Config{StepTimeout: time.Second, SecretLength: 10},
	)
}
