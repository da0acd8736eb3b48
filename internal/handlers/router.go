package handlers

import "net/http"

// NewRouter registers the service's routes
func NewRouter(approvals *ApprovalHandler, middleware *Middleware) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", Health)

	// Administrator routes
	mux.HandleFunc("POST /admin/approvals/{id}/approve", middleware.RequireAdmin(middleware.RateLimit(approvals.Approve)))
	mux.HandleFunc("POST /admin/approvals/{id}/reject", middleware.RequireAdmin(middleware.RateLimit(approvals.Reject)))

	return Logging(mux)
}
