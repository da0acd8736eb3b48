// Package notify tells parents how their family request was decided.
package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"sync/atomic"
	texttemplate "text/template"

	"github.com/rs/zerolog"

	"eleve/internal/errs"
	"eleve/internal/logging"
	"eleve/internal/models"
)

// Tag keys attached to every message
const (
	TagCategory  = "category"
	TagRequestID = "request_id"

	categoryFamilyApproval = "family-approval"
)

// Message is one rendered email
type Message struct {
	ToEmail string
	ToName  string
	Subject string
	HTML    string
	Text    string
	Tags    map[string]string
}

// Sender delivers rendered messages
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher renders outcome emails and hands them to a Sender. Delivery is
// best effort: failures are logged and counted but never retried.
type Dispatcher struct {
	sender   Sender
	failures atomic.Int64
	log      zerolog.Logger
}

// NewDispatcher creates a dispatcher that delivers through sender
func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{sender: sender, log: logging.Component("notify")}
}

// Failures returns how many deliveries have failed since start
func (d *Dispatcher) Failures() int64 {
	return d.failures.Load()
}

type approvalView struct {
	ParentName   string
	Organization string
	Accounts     []models.ProvisionedAccount
	Failures     []models.ChildFailure
}

type rejectionView struct {
	ParentName   string
	Organization string
	Reason       string
}

// SendApproval emails the parent the usernames and initial secrets of the
// children that were provisioned, and why the others were not
func (d *Dispatcher) SendApproval(ctx context.Context, to models.Contact, organizationName string, result *models.ApprovalResult) error {
	view := approvalView{
		ParentName:   to.Name,
		Organization: organizationName,
		Accounts:     result.Accounts,
		Failures:     result.Failures,
	}
	subject := fmt.Sprintf("%s: your children's accounts are ready", organizationName)
	if result.ApprovedCount() == 0 {
		subject = fmt.Sprintf("%s: we could not set up your children's accounts", organizationName)
	}
	return d.send(ctx, to, result.RequestID, subject, approvalHTML, approvalText, view)
}

// SendRejection emails the parent that the request was declined
func (d *Dispatcher) SendRejection(ctx context.Context, to models.Contact, organizationName, requestID, reason string) error {
	view := rejectionView{ParentName: to.Name, Organization: organizationName, Reason: reason}
	subject := fmt.Sprintf("%s: update on your family request", organizationName)
	return d.send(ctx, to, requestID, subject, rejectionHTML, rejectionText, view)
}

func (d *Dispatcher) send(ctx context.Context, to models.Contact, requestID, subject string, html *htmltemplate.Template, text *texttemplate.Template, view any) error {
	log := d.log.With().Str("request_id", requestID).Str("to", to.Email).Logger()

	if to.Email == "" {
		d.failures.Add(1)
		log.Warn().Msg("parent has no email address, notification dropped")
		return fmt.Errorf("%w: no recipient address", errs.ErrDeliveryFailed)
	}

	var htmlBody, textBody bytes.Buffer
	if err := html.Execute(&htmlBody, view); err != nil {
		d.failures.Add(1)
		return fmt.Errorf("%w: render html: %w", errs.ErrDeliveryFailed, err)
	}
	if err := text.Execute(&textBody, view); err != nil {
		d.failures.Add(1)
		return fmt.Errorf("%w: render text: %w", errs.ErrDeliveryFailed, err)
	}

	msg := Message{
		ToEmail: to.Email,
		ToName:  to.Name,
		Subject: subject,
		HTML:    htmlBody.String(),
		Text:    textBody.String(),
		Tags: map[string]string{
			TagCategory:  categoryFamilyApproval,
			TagRequestID: requestID,
		},
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		d.failures.Add(1)
		log.Warn().Err(err).Str("subject", subject).Msg("email delivery failed")
		return fmt.Errorf("%w: %w", errs.ErrDeliveryFailed, err)
	}

	log.Info().Str("subject", subject).Msg("email sent")
	return nil
}
