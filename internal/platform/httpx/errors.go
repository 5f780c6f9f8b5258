// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/security"
	"github.com/caseflow/caseflow/internal/shared"
)

// Sentinel errors for the transport layer. Domain packages use the shared sentinels; these
// alias them so handlers can match either.
var (
	ErrNotFound     = shared.ErrNotFound
	ErrDuplicate    = shared.ErrConflict
	ErrValidation   = shared.ErrInvalidInput
	ErrForbidden    = shared.ErrForbidden
	ErrUnauthorized = errors.New("unauthorized")
)

// ThrottleProblem extends the problem document of throttled requests.
type ThrottleProblem struct {
	ProblemDetail
	RemainingDelay security.Delay `json:"remaining_delay"`
	SecurityType   string         `json:"security_type"`
}

// ValidationProblem extends the problem document with per-field messages.
type ValidationProblem struct {
	ProblemDetail
	Fields map[string]string `json:"fields"`
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if secErr, ok := security.AsSecurityError(err); ok {
		JSON(w, http.StatusUnprocessableEntity, ThrottleProblem{
			ProblemDetail:  ProblemDetail{Title: "Too Many Attempts", Status: http.StatusUnprocessableEntity, Detail: secErr.UserMessage()},
			RemainingDelay: secErr.RemainingDelay,
			SecurityType:   secErr.Type.Channel(),
		})
		return
	}
	switch {
	case errors.As(err, &verrs):
		JSON(w, http.StatusBadRequest, ValidationProblem{
			ProblemDetail: ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest},
			Fields:        shared.FieldErrors(err),
		})
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err))
	case errors.Is(err, ErrDuplicate), errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate", shared.UserSafeMessage(err))
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden), errors.Is(err, authz.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// StatusOf returns the HTTP status RespondError would use for err.
func StatusOf(err error) int {
	var verrs validator.ValidationErrors
	if _, ok := security.AsSecurityError(err); ok {
		return http.StatusUnprocessableEntity
	}
	switch {
	case errors.As(err, &verrs), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden), errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
