package provider

import (
	"errors"
	"fmt"
)

// Code is a machine-readable classification of a provider failure.
//
// The flow branches on codes, never on error message text. A provider
// implementation must classify its upstream failure into one of these codes
// before returning it; anything it cannot classify is CodeProviderError and
// is surfaced to the caller verbatim.
type Code string

const (
	// CodePopupBlocked — the interactive popup handshake could not start.
	// Recovered locally by falling back to the redirect handshake; never
	// shown to the user as an error.
	CodePopupBlocked Code = "popup-blocked"

	// CodeAccountExists — the email from the failed federated attempt
	// already has a verifiable account under a different sign-in method.
	// The error carries the email and the pending credential needed to
	// attempt reconciliation.
	CodeAccountExists Code = "account-exists-with-different-credential"

	// CodeInvalidCredentials — wrong password, unknown email, expired or
	// malformed token. Terminal; surfaced to the caller.
	CodeInvalidCredentials Code = "invalid-credentials"

	// CodeUnsupported — the implementation does not support the requested
	// operation (for example a server-bound provider asked to start a
	// browser redirect).
	CodeUnsupported Code = "operation-unsupported"

	// CodeProviderError — any other provider-side failure: network errors,
	// quota, malformed responses. Surfaced verbatim.
	CodeProviderError Code = "provider-error"
)

// Error is a classified provider failure.
//
// Email and Pending are populated only for CodeAccountExists, and Pending may
// still be nil when the provider could not hand back a usable credential — in
// that case reconciliation is impossible and the error is re-propagated as-is.
type Error struct {
	Code    Code
	Message string             // provider-supplied, safe to show to the user
	Email   string             // conflicting email (CodeAccountExists only)
	Pending *PendingCredential // unattached credential (CodeAccountExists only)
	Err     error              // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified provider error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the classification from err. Errors that are not provider
// errors (or wrap none) classify as CodeProviderError, so callers can always
// switch on the result without a second type check.
func CodeOf(err error) Code {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return CodeProviderError
}

// AsError returns the *Error in err's chain, or nil if there is none.
func AsError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return nil
}
