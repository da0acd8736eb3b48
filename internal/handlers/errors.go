package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"eleve/internal/errs"
	"eleve/internal/logging"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondWithError(w http.ResponseWriter, status int, userMsg, logMsg string, err error) {
	if err != nil {
		if logMsg == "" {
			logMsg = userMsg
		}
		logFailure(status, logMsg, err)
	}

	respondWithJSON(w, status, errorResponse{Error: userMsg})
}

// respondWithErrorBody logs err and writes body, which already carries the error text
func respondWithErrorBody(w http.ResponseWriter, status int, logMsg string, err error, body any) {
	logFailure(status, logMsg, err)
	respondWithJSON(w, status, body)
}

func logFailure(status int, msg string, err error) {
	log := logging.Component("http")
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Int("status", status).Msg(msg)
}

func respondWithJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log := logging.Component("http")
		log.Error().Err(err).Msg("failed to write response")
	}
}

// statusFor maps a saga error onto an HTTP status and a message safe to show callers
func statusFor(err error) (int, string) {
	var verr *errs.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "approval request not found"
	case errors.Is(err, errs.ErrAlreadyProcessed):
		return http.StatusConflict, "approval request already processed"
	case errors.Is(err, errs.ErrPartialFailure):
		return http.StatusUnprocessableEntity, errs.ErrPartialFailure.Error()
	case errs.Unavailable(err):
		return http.StatusServiceUnavailable, "service temporarily unavailable, try again"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
