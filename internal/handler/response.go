package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// Every error response from the API has the same shape:
//
//	{"error": "invalid_credentials", "message": "invalid email or password"}
//
// so the frontend always knows what fields to expect, whatever the status.
//
// TWO ERROR DOMAINS:
// The service layer surfaces two kinds of failures — classified provider
// errors (provider.Error, carrying a machine code) and application errors
// (apperror.AppError). writeError maps both to HTTP without the handlers
// ever matching on message text.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hndang/authbridge/internal/apperror"
	"github.com/hndang/authbridge/internal/provider"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`             // machine-readable error type
	Message string `json:"message"`           // human-readable description
	Email   string `json:"email,omitempty"`   // conflict responses only
	Pending string `json:"pendingToken,omitempty"`
}

// writeJSON sends a JSON response with the given status code. Headers and
// status must be written before the body — once Encode writes, the headers
// are on the wire.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to the appropriate HTTP status and sends it.
//
// Provider errors are checked first: a credential conflict answers 409 and
// carries the conflicting email plus the pending-credential token, which is
// everything the UI needs to drive the link endpoint. The raw message of an
// unclassified failure is never leaked — the provider's own messages are
// user-safe, internal ones are not.
func writeError(w http.ResponseWriter, err error) {
	if perr := provider.AsError(err); perr != nil {
		switch perr.Code {
		case provider.CodeAccountExists:
			resp := ErrorResponse{
				Error:   "account_exists",
				Message: perr.Message,
				Email:   perr.Email,
			}
			if perr.Pending != nil {
				resp.Pending = perr.Pending.Token
			}
			writeJSON(w, http.StatusConflict, resp)
		case provider.CodeInvalidCredentials:
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_credentials",
				Message: perr.Message,
			})
		case provider.CodeUnsupported:
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "unsupported_operation",
				Message: perr.Message,
			})
		default:
			writeJSON(w, http.StatusBadGateway, ErrorResponse{
				Error:   "provider_error",
				Message: perr.Message,
			})
		}
		return
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
			errorType = "conflict"
		case errors.Is(err, apperror.ErrProfileWrite):
			status = http.StatusBadGateway
			errorType = "profile_write_failed"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
		})
		return
	}

	// Unknown error — the raw message might contain queries or file paths,
	// so a generic 500 is all the client gets.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
