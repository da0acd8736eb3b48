package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"eleve/internal/errs"
	"eleve/internal/logging"
	"eleve/internal/models"
)

// maxReasonLength caps rejection reasons stored with a request
const maxReasonLength = 1000

// Saga approves or rejects family requests. Children are provisioned one
// after another; each one succeeds or fails on its own, and the request is
// approved as soon as at least one child got an account.
type Saga struct {
	approvals   ApprovalStore
	provisioner ChildProvisioner
	notifier    Notifier
	now         func() time.Time
	log         zerolog.Logger
}

// NewSaga creates a saga. notifier may be nil, in which case nobody is told.
func NewSaga(approvals ApprovalStore, provisioner ChildProvisioner, notifier Notifier) *Saga {
	return &Saga{
		approvals:   approvals,
		provisioner: provisioner,
		notifier:    notifier,
		now:         time.Now,
		log:         logging.Component("saga"),
	}
}

// Run approves request requestID on behalf of actorID. The returned result
// is non-nil whenever provisioning was attempted. When some children failed
// the error is a *errs.PartialFailureError next to the result.
func (s *Saga) Run(ctx context.Context, requestID, actorID string) (*models.ApprovalResult, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if len(req.Children) == 0 {
		return nil, errs.NewValidationError(errs.FieldError{Field: "children", Message: "at least one child is required"})
	}

	log := s.log.With().Str("request_id", req.ID).Str("actor_id", actorID).Logger()
	log.Info().Int("children", len(req.Children)).Msg("approving family request")

	result := &models.ApprovalResult{RequestID: req.ID, Status: req.Status}
	target := Target{RequestID: req.ID, ParentID: req.ParentID, OrganizationID: req.OrganizationID}

	for i, child := range req.Children {
		if ctx.Err() != nil {
			for _, rest := range req.Children[i:] {
				result.Failures = append(result.Failures, models.ChildFailure{
					Child:  rest,
					Reason: FailureReason(errs.ErrCanceled),
					Err:    errs.ErrCanceled,
				})
			}
			log.Warn().Int("skipped", len(req.Children)-i).Msg("approval cancelled, remaining children not started")
			break
		}

		account, warnings, err := s.provisioner.Provision(ctx, target, child)
		result.Warnings = append(result.Warnings, warnings...)
		if err != nil {
			log.Warn().Err(err).Str("child", child.Name).Msg("child could not be provisioned")
			result.Failures = append(result.Failures, models.ChildFailure{Child: child, Reason: FailureReason(err), Err: err})
			continue
		}
		log.Info().Str("child", child.Name).Str("username", account.Username).Msg("child provisioned")
		result.Accounts = append(result.Accounts, *account)
	}

	// accounts now exist, so the outcome is recorded even if the caller went away
	finalizeCtx := context.WithoutCancel(ctx)
	processedAt := s.now().UTC().Truncate(time.Second)
	result.ProcessedAt = processedAt

	if len(result.Accounts) > 0 {
		err := s.approvals.UpdateStatus(finalizeCtx, req.ID, models.ApprovalStatusPending, models.ApprovalStatusApproved, actorID, processedAt)
		if err != nil {
			log.Error().Err(err).Int("provisioned", len(result.Accounts)).Msg("failed to record approval, removing provisioned accounts")
			s.unprovisionAll(finalizeCtx, target, result, err)
			return result, err
		}
		result.Status = models.ApprovalStatusApproved
	}

	s.notifyApproval(finalizeCtx, req, result)

	log.Info().
		Int("approved", result.ApprovedCount()).
		Int("failed", len(result.Failures)).
		Int("rollback_warnings", len(result.Warnings)).
		Str("status", string(result.Status)).
		Msg("family request processed")

	if len(result.Failures) > 0 {
		return result, &errs.PartialFailureError{Failed: len(result.Failures), Total: len(req.Children)}
	}
	return result, nil
}

// unprovisionAll removes every account in result, newest first, and turns
// each into a failure carrying cause. The request keeps its status, so a
// retry starts from nothing.
func (s *Saga) unprovisionAll(ctx context.Context, target Target, result *models.ApprovalResult, cause error) {
	for i := len(result.Accounts) - 1; i >= 0; i-- {
		warnings := s.provisioner.Unprovision(ctx, target, result.Accounts[i])
		result.Warnings = append(result.Warnings, warnings...)
	}
	for _, a := range result.Accounts {
		result.Failures = append(result.Failures, models.ChildFailure{Child: a.Child, Reason: FailureReason(cause), Err: cause})
	}
	result.Accounts = nil
}

// Reject closes a pending request without provisioning anything
func (s *Saga) Reject(ctx context.Context, requestID, actorID, reason string) error {
	if len(reason) > maxReasonLength {
		return errs.NewValidationError(errs.FieldError{Field: "reason", Message: fmt.Sprintf("must be at most %d characters", maxReasonLength)})
	}

	req, err := s.load(ctx, requestID)
	if err != nil {
		return err
	}

	at := s.now().UTC().Truncate(time.Second)
	if err := s.approvals.RecordRejection(ctx, req.ID, actorID, reason, at); err != nil {
		return err
	}
	s.log.Info().Str("request_id", req.ID).Str("actor_id", actorID).Msg("family request rejected")

	s.notifyRejection(context.WithoutCancel(ctx), req, reason)
	return nil
}

// load fetches a request that can still be decided
func (s *Saga) load(ctx context.Context, requestID string) (*models.FamilyApprovalRequest, error) {
	req, err := s.approvals.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsPending() {
		return nil, fmt.Errorf("approval request %s is %s: %w", req.ID, req.Status, errs.ErrAlreadyProcessed)
	}
	return req, nil
}

func (s *Saga) notifyApproval(ctx context.Context, req *models.FamilyApprovalRequest, result *models.ApprovalResult) {
	if s.notifier == nil {
		return
	}
	nc, ok := s.notificationContext(ctx, req)
	if !ok {
		return
	}
	if err := s.notifier.SendApproval(ctx, nc.Parent, nc.OrganizationName, result); err != nil {
		s.log.Warn().Err(err).Str("request_id", req.ID).Msg("approval notification not delivered")
	}
}

func (s *Saga) notifyRejection(ctx context.Context, req *models.FamilyApprovalRequest, reason string) {
	if s.notifier == nil {
		return
	}
	nc, ok := s.notificationContext(ctx, req)
	if !ok {
		return
	}
	if err := s.notifier.SendRejection(ctx, nc.Parent, nc.OrganizationName, req.ID, reason); err != nil {
		s.log.Warn().Err(err).Str("request_id", req.ID).Msg("rejection notification not delivered")
	}
}

func (s *Saga) notificationContext(ctx context.Context, req *models.FamilyApprovalRequest) (*models.NotificationContext, bool) {
	nc, err := s.approvals.GetNotificationContext(ctx, req.ParentID, req.OrganizationID)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", req.ID).Msg("cannot notify parent, contact lookup failed")
		return nil, false
	}
	return nc, true
}

// FailureReason turns a child's error into the short reason shown to
// administrators and parents
func FailureReason(err error) string {
	var verr *errs.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, errs.ErrCanceled):
		return "cancelled"
	case errors.Is(err, errs.ErrAlreadyProcessed):
		return "request already processed"
	case errors.Is(err, errs.ErrAllocationExhausted):
		return "no username available"
	case errors.Is(err, errs.ErrDuplicateHandle):
		return "username already taken"
	case errors.Is(err, errs.ErrProviderUnavailable):
		return "identity provider unavailable"
	case errors.Is(err, errs.ErrStoreUnavailable):
		return "datastore unavailable"
	case errors.Is(err, errs.ErrConflict):
		return "conflicting record"
	default:
		return "provisioning failed"
	}
}
