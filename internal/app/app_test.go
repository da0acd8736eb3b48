package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eleve/internal/config"
	"eleve/internal/database"
	"eleve/internal/errs"
	"eleve/internal/identity"
	"eleve/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		DatabaseType:        "sqlite",
		IdentityProvider:    "local",
		IdentityEmailDomain: "students.example.com",
		BcryptCost:          4,
		EmailProvider:       "log",
		StepTimeout:         5 * time.Second,
		UsernameMaxAttempts: 50,
		SecretLength:        10,
		ApprovalTTL:         time.Hour,
	}
}

func setup(t *testing.T) (*App, context.Context) {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "eleve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(ctx))

	a, err := New(ctx, testConfig(), db)
	require.NoError(t, err)
	return a, ctx
}

func submit(t *testing.T, a *App, ctx context.Context, children ...models.ChildSpec) *models.FamilyApprovalRequest {
	t.Helper()
	org, err := a.Organizations.Create(ctx, "Riverside Skate School")
	require.NoError(t, err)
	parentID, err := a.Profiles.CreateProfile(ctx, "", models.Profile{
		FullName:       "Sam Johnson",
		Role:           models.RoleParent,
		OrganizationID: org.ID,
		Email:          "sam@example.com",
	})
	require.NoError(t, err)
	req, err := a.Approvals.Create(ctx, parentID, org.ID, children)
	require.NoError(t, err)
	return req
}

func TestApproveEndToEnd(t *testing.T) {
	a, ctx := setup(t)
	req := submit(t, a, ctx,
		models.ChildSpec{Name: "Alex Johnson", Age: 9, SkillLevel: models.SkillBeginner},
		models.ChildSpec{Name: "Alex Johnson", Age: 12, SkillLevel: models.SkillAdvanced},
	)

	result, err := a.Saga.Run(ctx, req.ID, "admin-1")
	require.NoError(t, err)
	require.Len(t, result.Accounts, 2)
	assert.Equal(t, "alexjohnson", result.Accounts[0].Username)
	assert.Equal(t, "alexjohnson1", result.Accounts[1].Username)

	stored, err := a.Approvals.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, stored.Status)
	require.NotNil(t, stored.ApprovedBy)
	assert.Equal(t, "admin-1", *stored.ApprovedBy)

	students, err := a.Students.ListByApprovalRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, students, 2)

	profile, err := a.Profiles.GetByID(ctx, result.Accounts[0].ProfileID)
	require.NoError(t, err)
	assert.Equal(t, result.Accounts[0].IdentityID, profile.IdentityID)
	assert.Equal(t, models.RoleStudent, profile.Role)

	assert.Zero(t, a.Dispatcher.Failures())

	details, err := a.ShowRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, details.Request.Status)
	require.Len(t, details.Accounts, 2)
	usernames := []string{details.Accounts[0].Profile.Username, details.Accounts[1].Profile.Username}
	assert.ElementsMatch(t, []string{"alexjohnson", "alexjohnson1"}, usernames)

	identityID, err := a.VerifyCredential(ctx, "alexjohnson", result.Accounts[0].Secret)
	require.NoError(t, err)
	assert.Equal(t, result.Accounts[0].IdentityID, identityID)

	_, err = a.VerifyCredential(ctx, "alexjohnson", "not-the-secret")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestShowRequestMissing(t *testing.T) {
	a, ctx := setup(t)
	_, err := a.ShowRequest(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestVerifyCredentialNeedsLocalProvider(t *testing.T) {
	a := &App{identities: identity.NewRemoteProvider(identity.RemoteConfig{BaseURL: "http://127.0.0.1:0"})}
	_, err := a.VerifyCredential(context.Background(), "alexjohnson", "secret")
	assert.ErrorIs(t, err, ErrCredentialCheckUnsupported)
}

func TestRejectEndToEnd(t *testing.T) {
	a, ctx := setup(t)
	req := submit(t, a, ctx, models.ChildSpec{Name: "Jo Lee", Age: 7, SkillLevel: models.SkillBeginner})

	require.NoError(t, a.Saga.Reject(ctx, req.ID, "admin-1", "class is full"))

	stored, err := a.Approvals.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusRejected, stored.Status)
	assert.Equal(t, "class is full", stored.RejectionReason)

	students, err := a.Students.ListByApprovalRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, students)
}

func TestExpireStale(t *testing.T) {
	a, ctx := setup(t)
	req := submit(t, a, ctx, models.ChildSpec{Name: "Jo Lee", Age: 7, SkillLevel: models.SkillBeginner})

	expired, err := a.ExpireStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, expired)

	// a negative ttl puts the cutoff in the future
	expired, err = a.ExpireStale(ctx, -time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, expired)

	stored, err := a.Approvals.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, stored.Status)
}

func TestNewSenderSendGrid(t *testing.T) {
	cfg := testConfig()
	cfg.EmailProvider = "sendgrid"
	cfg.SendGridAPIKey = "SG.test"
	cfg.EmailFrom = "school@example.com"

	sender, err := newSender(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, sender)
}
