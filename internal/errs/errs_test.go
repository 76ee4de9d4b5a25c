package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaxonomyHelpers(t *testing.T) {
	notFound := &NotFoundError{Kind: "thread", ID: "t1"}
	unauthorized := &UnauthorizedError{UserID: "u1", ThreadID: "t1"}
	validation := &ValidationError{Field: "body", Reason: "required"}
	transient := &TransientDependencyError{Dependency: "smtp", Err: errors.New("timeout")}

	assert.True(t, IsNotFound(notFound))
	assert.True(t, IsUnauthorized(unauthorized))
	assert.True(t, IsValidation(validation))
	assert.True(t, IsTransient(transient))

	// Categories do not bleed into each other.
	assert.False(t, IsNotFound(validation))
	assert.False(t, IsValidation(notFound))
	assert.False(t, IsTransient(unauthorized))
}

func TestHelpersSeeThroughWrapping(t *testing.T) {
	inner := &NotFoundError{Kind: "draft", ID: "d1"}
	wrapped := fmt.Errorf("failed to approve: %w", inner)

	assert.True(t, IsNotFound(wrapped))
}

func TestTransientUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransientDependencyError{Dependency: "classifier", Err: cause}

	assert.ErrorIs(t, err, cause)
}
