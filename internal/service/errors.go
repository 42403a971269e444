package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmployerNotFound = errors.New("employer not found")
	ErrSessionNotFound  = errors.New("no cached session")
	ErrStoreUnavailable = errors.New("identity store unavailable")
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAuthenticationFailed is the parent of every reason a PIN login can be
	// refused. Match the children to tell the reasons apart.
	ErrAuthenticationFailed = errors.New("authentication failed")

	ErrSessionRevoked = fmt.Errorf("%w: session revoked", ErrAuthenticationFailed)
	ErrSessionExpired = fmt.Errorf("%w: session expired", ErrAuthenticationFailed)
	ErrInvalidPIN     = fmt.Errorf("%w: invalid PIN", ErrAuthenticationFailed)
	ErrPINLocked      = fmt.Errorf("%w: too many PIN attempts", ErrAuthenticationFailed)
	ErrInvalidToken   = fmt.Errorf("%w: invalid access token", ErrAuthenticationFailed)
)

// operationResult is the metrics label for an operation outcome.
func operationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthenticationFailed), errors.Is(err, ErrPermissionDenied):
		return "denied"
	case errors.Is(err, ErrEmployerNotFound), errors.Is(err, ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
