package avatar

import (
	"errors"
	"fmt"
)

// Failure taxonomy of the session core. Handlers map these onto HTTP status
// codes; services return them wrapped with context via fmt.Errorf %w.
var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrNotFound covers both a missing session and a session owned by
	// someone else; the caller cannot tell the two apart.
	ErrNotFound = errors.New("session not found")

	ErrConsentRequired   = errors.New("consent has not been granted for this session")
	ErrConsentIncomplete = errors.New("all three consent acknowledgments are required")

	ErrEmptyInput     = errors.New("message text is required")
	ErrNotReady       = errors.New("session is not ready for interaction")
	ErrStepInProgress = errors.New("step is already being processed")
	ErrQuotaExceeded  = errors.New("daily interaction limit reached")
)

// DeletionError reports a partially failed secure deletion. The session stays
// queryable and the request can be retried; completed stages are idempotent.
type DeletionError struct {
	Stage string // "artifacts", "key" or "records"
	Err   error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("deletion failed at %s stage: %v", e.Stage, e.Err)
}

func (e *DeletionError) Unwrap() error { return e.Err }
