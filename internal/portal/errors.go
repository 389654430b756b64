package portal

import (
	"errors"
	"fmt"
)

var (
	// ErrStationNotFound means no dropdown option matched the requested codes.
	ErrStationNotFound = errors.New("station not offered by portal")

	// ErrStaleChallenge means a code was submitted for a captcha that is no
	// longer the one displayed by the portal.
	ErrStaleChallenge = errors.New("captcha challenge is outdated")

	// ErrNotVerified means the portal session is not past the captcha.
	ErrNotVerified = errors.New("portal session not verified")

	// ErrAlreadyVerified means a captcha was requested for a session that is
	// already past it.
	ErrAlreadyVerified = errors.New("portal session already verified")

	// ErrElementNotFound is returned by a Browser when a selector matches nothing.
	ErrElementNotFound = errors.New("element not found")
)

// SessionFaultError wraps a navigation, element lookup or extraction failure
// against the portal. Faults are never retried by the session.
type SessionFaultError struct {
	Op  string
	Err error
}

func (e *SessionFaultError) Error() string {
	return fmt.Sprintf("portal %s: %v", e.Op, e.Err)
}

func (e *SessionFaultError) Unwrap() error {
	return e.Err
}

// IsSessionFault reports whether err carries a SessionFaultError.
func IsSessionFault(err error) bool {
	var fault *SessionFaultError
	return errors.As(err, &fault)
}
