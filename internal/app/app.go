// Package app wires the approval workflow from configuration. Both the HTTP
// server and the approvalctl tool build their services here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eleve/internal/config"
	"eleve/internal/database"
	"eleve/internal/identity"
	"eleve/internal/logging"
	"eleve/internal/models"
	"eleve/internal/notify"
	"eleve/internal/provisioning"
	"eleve/internal/repository"
	"eleve/internal/security"
)

// App holds the wired services
type App struct {
	Approvals     *repository.ApprovalRepository
	Organizations *repository.OrganizationRepository
	Profiles      *repository.ProfileRepository
	Students      *repository.StudentRepository
	Dispatcher    *notify.Dispatcher
	Saga          *provisioning.Saga

	identities identityProvider
}

// ErrCredentialCheckUnsupported is returned by VerifyCredential when the
// identity provider keeps secrets out of reach
var ErrCredentialCheckUnsupported = errors.New("credential check needs the local identity provider")

// authenticator is implemented by identity providers that can check a secret
type authenticator interface {
	Authenticate(ctx context.Context, handle, secret string) (string, error)
}

// identityProvider is what the saga needs from either identity backend
type identityProvider interface {
	provisioning.IdentityBinder
	provisioning.HandleDirectory
}

// New builds the repositories, the identity provider, the notification
// sender and the saga on top of an open database
func New(ctx context.Context, cfg *config.Config, db *database.DB) (*App, error) {
	a := &App{
		Approvals:     repository.NewApprovalRepository(db),
		Organizations: repository.NewOrganizationRepository(db),
		Profiles:      repository.NewProfileRepository(db),
		Students:      repository.NewStudentRepository(db),
	}

	identities := newIdentityProvider(cfg, db)
	a.identities = identities

	sender, err := newSender(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Dispatcher = notify.NewDispatcher(sender)

	allocator := provisioning.NewUsernameAllocator(cfg.UsernameMaxAttempts, identities, a.Profiles)
	provisioner := provisioning.NewProvisioner(allocator, identities, a.Profiles, a.Students, provisioning.Config{
		StepTimeout:  cfg.StepTimeout,
		SecretLength: cfg.SecretLength,
	})
	a.Saga = provisioning.NewSaga(a.Approvals, provisioner, a.Dispatcher)

	return a, nil
}

// ExpireStale closes pending requests older than ttl
func (a *App) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	return a.Approvals.ExpireStale(ctx, time.Now().Add(-ttl))
}

// StudentAccount is one provisioned child as shown to operators
type StudentAccount struct {
	Student models.Student
	Profile models.Profile
}

// RequestDetails is a request together with the accounts created for it
type RequestDetails struct {
	Request  *models.FamilyApprovalRequest
	Accounts []StudentAccount
}

// ShowRequest loads a request and the student accounts provisioned for it
func (a *App) ShowRequest(ctx context.Context, requestID string) (*RequestDetails, error) {
	req, err := a.Approvals.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	students, err := a.Students.ListByApprovalRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	details := &RequestDetails{Request: req, Accounts: make([]StudentAccount, 0, len(students))}
	for _, s := range students {
		profile, err := a.Profiles.GetByID(ctx, s.ProfileID)
		if err != nil {
			return nil, fmt.Errorf("student %s: %w", s.ID, err)
		}
		details.Accounts = append(details.Accounts, StudentAccount{Student: s, Profile: *profile})
	}
	return details, nil
}

// VerifyCredential checks that a child's username and initial secret log in,
// returning the identity ID
func (a *App) VerifyCredential(ctx context.Context, handle, secret string) (string, error) {
	auth, ok := a.identities.(authenticator)
	if !ok {
		return "", ErrCredentialCheckUnsupported
	}
	return auth.Authenticate(ctx, handle, secret)
}

func newIdentityProvider(cfg *config.Config, db *database.DB) identityProvider {
	log := logging.Component("app")
	if cfg.IdentityProvider == "remote" {
		log.Info().Str("base_url", cfg.IdentityBaseURL).Msg("using remote identity provider")
		return identity.NewRemoteProvider(identity.RemoteConfig{
			BaseURL:      cfg.IdentityBaseURL,
			TokenURL:     cfg.IdentityTokenURL,
			ClientID:     cfg.IdentityClientID,
			ClientSecret: cfg.IdentityClientSecret,
			EmailDomain:  cfg.IdentityEmailDomain,
			Timeout:      cfg.StepTimeout,
		})
	}
	log.Info().Msg("using local identity provider")
	return identity.NewLocalProvider(db, security.NewHasher(cfg.BcryptCost), cfg.IdentityEmailDomain)
}

func newSender(ctx context.Context, cfg *config.Config) (notify.Sender, error) {
	switch cfg.EmailProvider {
	case "ses":
		sender, err := notify.NewSESSender(ctx, cfg.AWSRegion, cfg.EmailFrom, cfg.EmailFromName)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES sender: %w", err)
		}
		return sender, nil
	case "sendgrid":
		return notify.NewSendGridSender(cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailFromName), nil
	default:
		return notify.NewLogSender(), nil
	}
}
