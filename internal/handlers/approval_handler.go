package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"eleve/internal/models"
)

// ApprovalService decides family approval requests
type ApprovalService interface {
	Run(ctx context.Context, requestID, actorID string) (*models.ApprovalResult, error)
	Reject(ctx context.Context, requestID, actorID, reason string) error
}

// ApprovalHandler serves the administrator approval endpoints
type ApprovalHandler struct {
	approvals ApprovalService
}

// NewApprovalHandler creates a new approval handler
func NewApprovalHandler(approvals ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

type failedChild struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// rollbackWarning names a record that could not be removed and needs an operator
type rollbackWarning struct {
	Name       string `json:"name"`
	Step       string `json:"step"`
	ResourceID string `json:"resourceId"`
}

type approvalResponse struct {
	ApprovedCount    int               `json:"approvedCount"`
	FailedChildren   []failedChild     `json:"failedChildren"`
	RollbackWarnings []rollbackWarning `json:"rollbackWarnings"`
	RequestStatus    string            `json:"requestStatus"`
	Error            string            `json:"error,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type rejectResponse struct {
	RequestStatus string `json:"requestStatus"`
}

// Approve provisions the children of a pending request
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")
	actorID := ActorFromContext(r.Context())

	result, err := h.approvals.Run(r.Context(), requestID, actorID)
	if result == nil {
		status, msg := statusFor(err)
		if err == nil {
			status, msg = http.StatusInternalServerError, "internal server error"
		}
		respondWithError(w, status, msg, "approval failed", err)
		return
	}

	resp := approvalResponse{
		ApprovedCount:    result.ApprovedCount(),
		FailedChildren:   make([]failedChild, 0, len(result.Failures)),
		RollbackWarnings: make([]rollbackWarning, 0, len(result.Warnings)),
		RequestStatus:    string(result.Status),
	}
	for _, f := range result.Failures {
		resp.FailedChildren = append(resp.FailedChildren, failedChild{Name: f.Child.Name, Reason: f.Reason})
	}
	for _, w := range result.Warnings {
		resp.RollbackWarnings = append(resp.RollbackWarnings, rollbackWarning{Name: w.Child.Name, Step: w.Step, ResourceID: w.ResourceID})
	}

	status := http.StatusOK
	if err != nil {
		status, resp.Error = statusFor(err)
		respondWithErrorBody(w, status, "approval finished with errors", err, resp)
		return
	}
	respondWithJSON(w, status, resp)
}

// Reject declines a pending request
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")
	actorID := ActorFromContext(r.Context())

	var body rejectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid request body", "", err)
		return
	}

	if err := h.approvals.Reject(r.Context(), requestID, actorID, body.Reason); err != nil {
		status, msg := statusFor(err)
		respondWithError(w, status, msg, "rejection failed", err)
		return
	}
	respondWithJSON(w, http.StatusOK, rejectResponse{RequestStatus: string(models.ApprovalStatusRejected)})
}

// Health reports that the process is serving
func Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
