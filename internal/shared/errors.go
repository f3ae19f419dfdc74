package shared

import "errors"

// Root errors of the lifecycle error taxonomy. Domain packages declare their
// own sentinels wrapping one of these so that callers can classify a failure
// with errors.Is no matter which component produced it.
var (
	// ErrValidation indicates malformed or incomplete input.
	ErrValidation = errors.New("validation failed")
	// ErrInvariant indicates the operation would break a cross-entity rule.
	ErrInvariant = errors.New("invariant violation")
	// ErrStateConflict indicates the document is not in a state that permits the transition.
	ErrStateConflict = errors.New("state conflict")
	// ErrForbidden indicates the acting user lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrContention indicates a lock or version conflict; callers may retry.
	ErrContention = errors.New("contention")
	// ErrNotFound indicates the resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Retryable reports whether the error is transient.
func Retryable(err error) bool {
	return errors.Is(err, ErrContention)
}
