// Package errs defines the pipeline's error taxonomy. Every failure path in the
// workers and entrypoints resolves to one of these categories so callers can
// decide synchronously (validation, not-found, unauthorized) and workers can
// decide asynchronously (retry, defer, escalate).
package errs

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError marks a malformed ingestion or command payload. Rejected
// synchronously at the entrypoint; never enqueued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid payload: %s", e.Reason)
	}
	return fmt.Sprintf("invalid payload: %s: %s", e.Field, e.Reason)
}

// NotFoundError marks a thread/draft/policy lookup miss. Surfaced to the
// caller, never retried.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// UnauthorizedError marks an ownership mismatch between the caller and the
// thread being mutated.
type UnauthorizedError struct {
	UserID   string
	ThreadID string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("user %s does not own thread %s", e.UserID, e.ThreadID)
}

// TransientDependencyError wraps a store/channel/classifier failure that is
// worth retrying with backoff.
type TransientDependencyError struct {
	Dependency string
	Err        error
}

func (e *TransientDependencyError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Dependency, e.Err)
}

func (e *TransientDependencyError) Unwrap() error { return e.Err }

// PolicyViolation marks a send that arrived outside its allowed window. It is
// not an error to the caller: the job is re-enqueued to run at ResumeAt.
type PolicyViolation struct {
	Rule     string
	ResumeAt time.Time
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("policy %s blocks send until %s", e.Rule, e.ResumeAt.Format(time.RFC3339))
}

// ExhaustedRetriesError is terminal: the job dead-letters and an Action record
// is left on the thread so a human sees the failure.
type ExhaustedRetriesError struct {
	JobKind  string
	Attempts int
	LastErr  error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("%s exhausted %d attempts: %v", e.JobKind, e.Attempts, e.LastErr)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.LastErr }

// IsNotFound reports whether err is a NotFoundError anywhere in its chain.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsUnauthorized reports whether err is an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var ua *UnauthorizedError
	return errors.As(err, &ua)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err should be retried by the queue.
func IsTransient(err error) bool {
	var td *TransientDependencyError
	return errors.As(err, &td)
}
