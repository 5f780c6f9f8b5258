package security

import (
	"errors"
	"fmt"
)

// SecurityError is returned when a throttle threshold is exceeded. The message never reveals
// which subject triggered it.
type SecurityError struct {
	RemainingDelay Delay
	Type           SecurityType
	cause          error
}

func (e *SecurityError) Error() string {
	if e.cause != nil {
		return "security: request throttled: " + e.cause.Error()
	}
	return "security: request throttled"
}

// Unwrap exposes the store failure behind a fail-closed denial.
func (e *SecurityError) Unwrap() error {
	return e.cause
}

// UserMessage is the text shown to the requester.
func (e *SecurityError) UserMessage() string {
	if e.RemainingDelay.IsCaptcha() {
		return "Too many requests. Please complete the captcha to continue."
	}
	return fmt.Sprintf("Too many requests. Please wait %d seconds before trying again.", e.RemainingDelay.Seconds())
}

// AsSecurityError extracts a SecurityError from err.
func AsSecurityError(err error) (*SecurityError, bool) {
	var secErr *SecurityError
	if errors.As(err, &secErr) {
		return secErr, true
	}
	return nil, false
}
