package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eleve/internal/errs"
	"eleve/internal/models"
	"eleve/internal/security"
)

const testSecret = "test-secret"

type fakeApprovals struct {
	result    *models.ApprovalResult
	err       error
	gotID     string
	gotActor  string
	gotReason string
}

func (f *fakeApprovals) Run(ctx context.Context, requestID, actorID string) (*models.ApprovalResult, error) {
	f.gotID, f.gotActor = requestID, actorID
	return f.result, f.err
}

func (f *fakeApprovals) Reject(ctx context.Context, requestID, actorID, reason string) error {
	f.gotID, f.gotActor, f.gotReason = requestID, actorID, reason
	return f.err
}

func newTestRouter(svc ApprovalService, rate int) http.Handler {
	mw := NewMiddleware(security.NewTokenVerifier(testSecret), security.NewRateLimiter(rate, time.Minute))
	return NewRouter(NewApprovalHandler(svc), mw)
}

func adminToken(t *testing.T, actor string) string {
	t.Helper()
	token, err := security.NewTokenVerifier(testSecret).IssueAdmin(actor, time.Hour)
	require.NoError(t, err)
	return token
}

func post(t *testing.T, h http.Handler, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) approvalResponse {
	t.Helper()
	var resp approvalResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestApproveSuccess(t *testing.T) {
	svc := &fakeApprovals{result: &models.ApprovalResult{
		RequestID: "req-1",
		Accounts:  []models.ProvisionedAccount{{Username: "alexjohnson"}, {Username: "jojohnson"}},
		Status:    models.ApprovalStatusApproved,
	}}
	h := newTestRouter(svc, 10)

	rec := post(t, h, "/admin/approvals/req-1/approve", adminToken(t, "admin-1"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode(t, rec)
	assert.Equal(t, 2, resp.ApprovedCount)
	assert.Empty(t, resp.FailedChildren)
	assert.NotNil(t, resp.RollbackWarnings)
	assert.Empty(t, resp.RollbackWarnings)
	assert.Equal(t, "approved", resp.RequestStatus)
	assert.Empty(t, resp.Error)
	assert.Equal(t, "req-1", svc.gotID)
	assert.Equal(t, "admin-1", svc.gotActor)
}

func TestApprovePartialFailure(t *testing.T) {
	svc := &fakeApprovals{
		result: &models.ApprovalResult{
			Accounts: []models.ProvisionedAccount{{Username: "alexjohnson"}},
			Failures: []models.ChildFailure{{Child: models.ChildSpec{Name: "Jo Johnson"}, Reason: "datastore unavailable"}},
			Status:   models.ApprovalStatusApproved,
		},
		err: &errs.PartialFailureError{Failed: 1, Total: 2},
	}
	h := newTestRouter(svc, 10)

	rec := post(t, h, "/admin/approvals/req-1/approve", adminToken(t, "admin-1"), "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode(t, rec)
	assert.Equal(t, 1, resp.ApprovedCount)
	assert.Equal(t, []failedChild{{Name: "Jo Johnson", Reason: "datastore unavailable"}}, resp.FailedChildren)
	assert.Equal(t, "approved", resp.RequestStatus)
	assert.NotEmpty(t, resp.Error)
}

func TestApproveReportsRecordsLeftBehind(t *testing.T) {
	jo := models.ChildSpec{Name: "Jo Johnson"}
	svc := &fakeApprovals{
		result: &models.ApprovalResult{
			Accounts: []models.ProvisionedAccount{{Username: "alexjohnson"}},
			Failures: []models.ChildFailure{{Child: jo, Reason: "conflicting record"}},
			Warnings: []models.RollbackWarning{{Child: jo, Step: "profile", ResourceID: "profile-7"}},
			Status:   models.ApprovalStatusApproved,
		},
		err: &errs.PartialFailureError{Failed: 1, Total: 2},
	}
	h := newTestRouter(svc, 10)

	rec := post(t, h, "/admin/approvals/req-1/approve", adminToken(t, "admin-1"), "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode(t, rec)
	assert.Equal(t, []rollbackWarning{{Name: "Jo Johnson", Step: "profile", ResourceID: "profile-7"}}, resp.RollbackWarnings)
}

func TestApproveStatusWriteFailure(t *testing.T) {
	alex := models.ChildSpec{Name: "Alex Johnson"}
	svc := &fakeApprovals{
		result: &models.ApprovalResult{
			Failures: []models.ChildFailure{{Child: alex, Reason: "datastore unavailable"}},
			Warnings: []models.RollbackWarning{{Child: alex, Step: "identity", ResourceID: "identity-3"}},
			Status:   models.ApprovalStatusPending,
		},
		err: errs.ErrStoreUnavailable,
	}
	h := newTestRouter(svc, 10)

	rec := post(t, h, "/admin/approvals/req-1/approve", adminToken(t, "admin-1"), "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decode(t, rec)
	assert.Zero(t, resp.ApprovedCount)
	assert.Equal(t, "pending", resp.RequestStatus)
	assert.Equal(t, []failedChild{{Name: "Alex Johnson", Reason: "datastore unavailable"}}, resp.FailedChildren)
	assert.Equal(t, []rollbackWarning{{Name: "Alex Johnson", Step: "identity", ResourceID: "identity-3"}}, resp.RollbackWarnings)
	assert.NotEmpty(t, resp.Error)
}

func TestApproveErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", errs.ErrNotFound, http.StatusNotFound},
		{"already processed", errs.ErrAlreadyProcessed, http.StatusConflict},
		{"store unavailable", errs.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{"no children", errs.NewValidationError(errs.FieldError{Field: "children", Message: "at least one child is required"}), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&fakeApprovals{err: tt.err}, 10)
			rec := post(t, h, "/admin/approvals/req-1/approve", adminToken(t, "admin-1"), "")
			assert.Equal(t, tt.want, rec.Code)

			var body errorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestApproveRequiresAdmin(t *testing.T) {
	svc := &fakeApprovals{}
	h := newTestRouter(svc, 10)

	rec := post(t, h, "/admin/approvals/req-1/approve", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, h, "/admin/approvals/req-1/approve", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	claims := security.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "parent-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             "parent",
	}
	parentToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	rec = post(t, h, "/admin/approvals/req-1/approve", parentToken, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Empty(t, svc.gotID, "service is never reached without an admin token")
}

func TestApproveRateLimitedPerActor(t *testing.T) {
	svc := &fakeApprovals{err: errs.ErrAlreadyProcessed}
	h := newTestRouter(svc, 2)
	token := adminToken(t, "admin-1")

	assert.Equal(t, http.StatusConflict, post(t, h, "/admin/approvals/a/approve", token, "").Code)
	assert.Equal(t, http.StatusConflict, post(t, h, "/admin/approvals/b/approve", token, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, post(t, h, "/admin/approvals/c/approve", token, "").Code)

	// another administrator has their own budget
	assert.Equal(t, http.StatusConflict, post(t, h, "/admin/approvals/d/approve", adminToken(t, "admin-2"), "").Code)
}

func TestReject(t *testing.T) {
	svc := &fakeApprovals{}
	h := newTestRouter(svc, 10)

	rec := post(t, h, "/admin/approvals/req-1/reject", adminToken(t, "admin-1"), `{"reason":"class is full"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rejectResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "rejected", resp.RequestStatus)
	assert.Equal(t, "class is full", svc.gotReason)

	rec = post(t, h, "/admin/approvals/req-1/reject", adminToken(t, "admin-1"), `{"reason":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = errs.ErrAlreadyProcessed
	rec = post(t, h, "/admin/approvals/req-1/reject", adminToken(t, "admin-1"), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestRouter(&fakeApprovals{}, 10)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
