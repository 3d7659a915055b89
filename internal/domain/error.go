package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOperationFailed = errors.New("storage operation failed")
	ErrInvalidExecCtx  = errors.New("invalid executor context")

	// Purchase flow
	ErrPackageNotFound   = errors.New("package not found")
	ErrAccountNotLinked  = errors.New("account is not linked to the backend")
	ErrDuplicateOrder    = errors.New("order id already exists")
	ErrInvalidTransition = errors.New("payment is not pending")

	// Account linking
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrLinkNotStarted  = errors.New("no account link in progress")
	ErrTooManyAttempts = errors.New("too many verification attempts")
	ErrAlreadyLinked   = errors.New("account is already linked")

	// External services
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected request")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrBackendRejected    = errors.New("backend rejected request")
	ErrInvalidSignature   = errors.New("invalid callback signature")

	// Reconciliation
	ErrCreditNotRetryable = errors.New("payment credit is not in a retryable state")
	ErrLockTimeout        = errors.New("could not acquire lock")
	ErrAmountMismatch     = errors.New("callback amount does not match payment")
)

// HTTPError is returned by the outbound HTTP clients. Kind is one of the
// Err*Unavailable / Err*Rejected sentinels so callers can branch with errors.Is.
type HTTPError struct {
	Service    string
	StatusCode int // 0 when the request never got a response
	Body       string
	Kind       error
	Cause      error
}

func (e *HTTPError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Cause != nil:
		return fmt.Sprintf("%s: %v: %v", e.Service, e.Kind, e.Cause)
	case e.Body != "":
		return fmt.Sprintf("%s: %v (status %d): %s", e.Service, e.Kind, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s: %v (status %d)", e.Service, e.Kind, e.StatusCode)
	}
}

func (e *HTTPError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// Retryable reports whether err is a transient external failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrBackendUnavailable)
}
