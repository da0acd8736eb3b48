package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"eleve/internal/credentials"
	"eleve/internal/errs"
	"eleve/internal/logging"
	"eleve/internal/models"
)

// DefaultStepTimeout bounds each external call made while provisioning a child
const DefaultStepTimeout = 10 * time.Second

// DefaultSecretLength is the length of generated initial secrets
const DefaultSecretLength = 10

// Step names used in logs and rollback warnings
const (
	StepIdentity     = "identity"
	StepProfile      = "profile"
	StepDomainRecord = "domain_record"
)

type state string

const (
	stateStart               state = "start"
	stateUsernameAllocated   state = "username_allocated"
	stateIdentityCreated     state = "identity_created"
	stateProfileCreated      state = "profile_created"
	stateDomainRecordCreated state = "domain_record_created"
	stateRollingBack         state = "rolling_back"
	stateRolledBack          state = "rolled_back"
	stateFailed              state = "failed"
)

// Target identifies who a child is being provisioned for
type Target struct {
	RequestID      string
	ParentID       string
	OrganizationID string
}

// Config tunes a Provisioner
type Config struct {
	StepTimeout  time.Duration
	SecretLength int
}

// Provisioner creates the identity, profile and student record for one
// child. Either all three exist afterwards or the ones that were created
// have been removed again, as far as removal was possible.
type Provisioner struct {
	allocator    *UsernameAllocator
	identities   IdentityBinder
	profiles     ProfileWriter
	records      DomainRecordWriter
	stepTimeout  time.Duration
	secretLength int
	log          zerolog.Logger
}

// NewProvisioner wires a provisioner from its collaborators
func NewProvisioner(allocator *UsernameAllocator, identities IdentityBinder, profiles ProfileWriter, records DomainRecordWriter, cfg Config) *Provisioner {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.SecretLength <= 0 {
		cfg.SecretLength = DefaultSecretLength
	}
	return &Provisioner{
		allocator:    allocator,
		identities:   identities,
		profiles:     profiles,
		records:      records,
		stepTimeout:  cfg.StepTimeout,
		secretLength: cfg.SecretLength,
		log:          logging.Component("provisioner"),
	}
}

// compensation undoes one completed step
type compensation struct {
	step        string
	resourceID  string
	unavailable error
	undo        func(ctx context.Context) error
}

// run tracks one child's progress through the steps
type run struct {
	p       *Provisioner
	child   models.ChildSpec
	state   state
	log     zerolog.Logger
	undo    []compensation
	account models.ProvisionedAccount
}

func (r *run) transition(to state) {
	r.log.Debug().Str("from", string(r.state)).Str("to", string(to)).Msg("provisioning state changed")
	r.state = to
}

// Provision runs the steps for one child. Caller cancellation is ignored
// once the child has started: the child always ends provisioned or rolled back.
// Rollback failures are returned as warnings next to the original error.
func (p *Provisioner) Provision(ctx context.Context, target Target, child models.ChildSpec) (*models.ProvisionedAccount, []models.RollbackWarning, error) {
	ctx = context.WithoutCancel(ctx)
	r := p.newRun(target, child)

	// validation comes first so invalid input never creates an identity
	if err := p.records.Precheck(child); err != nil {
		r.transition(stateFailed)
		return nil, nil, err
	}

	if err := r.execute(ctx, target); err != nil {
		warnings := r.rollback(ctx)
		r.transition(stateFailed)
		return nil, warnings, err
	}

	r.transition(stateDomainRecordCreated)
	account := r.account
	return &account, nil, nil
}

// Unprovision removes the records of a child that was fully provisioned,
// newest first, using the same compensations as a failed Provision.
// Records that could not be removed are returned as warnings.
func (p *Provisioner) Unprovision(ctx context.Context, target Target, account models.ProvisionedAccount) []models.RollbackWarning {
	ctx = context.WithoutCancel(ctx)
	r := p.newRun(target, account.Child)
	r.account = account
	r.state = stateDomainRecordCreated

	r.pushIdentity(account.IdentityID)
	r.pushProfile(account.ProfileID)
	r.pushDomainRecord(account.DomainRecordID)

	warnings := r.rollback(ctx)
	r.transition(stateRolledBack)
	return warnings
}

func (p *Provisioner) newRun(target Target, child models.ChildSpec) *run {
	return &run{
		p:     p,
		child: child,
		state: stateStart,
		log: p.log.With().
			Str("request_id", target.RequestID).
			Str("child", child.Name).
			Logger(),
		account: models.ProvisionedAccount{Child: child},
	}
}

func (r *run) pushIdentity(id string) {
	r.undo = append(r.undo, compensation{StepIdentity, id, errs.ErrProviderUnavailable, func(ctx context.Context) error {
		return r.p.identities.DeleteIdentity(ctx, id)
	}})
}

func (r *run) pushProfile(id string) {
	r.undo = append(r.undo, compensation{StepProfile, id, errs.ErrStoreUnavailable, func(ctx context.Context) error {
		return r.p.profiles.DeleteProfile(ctx, id)
	}})
}

func (r *run) pushDomainRecord(id string) {
	r.undo = append(r.undo, compensation{StepDomainRecord, id, errs.ErrStoreUnavailable, func(ctx context.Context) error {
		return r.p.records.DeleteStudent(ctx, id)
	}})
}

func (r *run) execute(ctx context.Context, target Target) error {
	p := r.p

	var handle string
	err := p.step(ctx, errs.ErrStoreUnavailable, func(ctx context.Context) error {
		var err error
		handle, err = p.allocator.Allocate(ctx, r.child.Name)
		return err
	})
	if err != nil {
		return err
	}
	r.account.Username = handle
	r.transition(stateUsernameAllocated)

	secret, err := credentials.GenerateSecret(p.secretLength)
	if err != nil {
		return fmt.Errorf("failed to generate secret: %w", err)
	}
	r.account.Secret = secret

	attrs := models.IdentityAttributes{
		FullName:       r.child.Name,
		Role:           models.RoleStudent,
		OrganizationID: target.OrganizationID,
		ParentID:       target.ParentID,
	}
	err = p.step(ctx, errs.ErrProviderUnavailable, func(ctx context.Context) error {
		var err error
		r.account.IdentityID, err = p.identities.CreateIdentity(ctx, handle, secret, attrs)
		return err
	})
	if err != nil {
		return err
	}
	identityID := r.account.IdentityID
	r.pushIdentity(identityID)
	r.transition(stateIdentityCreated)

	profile := models.Profile{
		Username:       handle,
		FullName:       r.child.Name,
		Role:           models.RoleStudent,
		OrganizationID: target.OrganizationID,
		ParentID:       target.ParentID,
	}
	err = p.step(ctx, errs.ErrStoreUnavailable, func(ctx context.Context) error {
		var err error
		r.account.ProfileID, err = p.profiles.CreateProfile(ctx, identityID, profile)
		return err
	})
	if err != nil {
		return err
	}
	profileID := r.account.ProfileID
	r.pushProfile(profileID)
	r.transition(stateProfileCreated)

	student := models.Student{
		OrganizationID:    target.OrganizationID,
		ParentID:          target.ParentID,
		ApprovalRequestID: target.RequestID,
		Age:               r.child.Age,
		SkillLevel:        r.child.SkillLevel,
		Notes:             r.child.Notes,
	}
	return p.step(ctx, errs.ErrStoreUnavailable, func(ctx context.Context) error {
		var err error
		r.account.DomainRecordID, err = p.records.CreateStudent(ctx, profileID, student)
		return err
	})
}

// rollback undoes completed steps newest first. A failed compensation is
// recorded and the remaining ones still run.
func (r *run) rollback(ctx context.Context) []models.RollbackWarning {
	if len(r.undo) == 0 {
		return nil
	}
	r.transition(stateRollingBack)

	var warnings []models.RollbackWarning
	for i := len(r.undo) - 1; i >= 0; i-- {
		c := r.undo[i]
		err := r.p.step(ctx, c.unavailable, c.undo)
		if err == nil {
			r.log.Debug().Str("step", c.step).Str("resource_id", c.resourceID).Msg("compensation completed")
			continue
		}
		rbErr := &errs.RollbackError{Step: c.step, ResourceID: c.resourceID, Err: err}
		r.log.Error().Err(rbErr).Str("step", c.step).Str("resource_id", c.resourceID).Msg("compensation failed, resource left behind")
		warnings = append(warnings, models.RollbackWarning{
			Child:      r.child,
			Step:       c.step,
			ResourceID: c.resourceID,
			Err:        rbErr,
		})
	}
	return warnings
}

// step runs fn under the per-step timeout. A deadline error that the
// collaborator did not classify itself becomes the given unavailable error.
// Any other error is returned as is, even if it arrived as the deadline passed.
func (p *Provisioner) step(ctx context.Context, unavailable error, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, p.stepTimeout)
	defer cancel()

	err := fn(stepCtx)
	if err == nil || errs.Unavailable(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: step timed out after %s: %w", unavailable, p.stepTimeout, err)
	}
	return err
}
