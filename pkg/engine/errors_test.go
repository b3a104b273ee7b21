package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineError_Classification(t *testing.T) {
	tests := []struct {
		name     string
		err      *EngineError
		sentinel error
		class    ErrorClass
	}{
		{"unknown operation", NewUnknownOperationError("x", "/"), ErrUnknownOperation, ErrorClassPermanent},
		{"unknown attribute", NewUnknownAttributeError("x", "/a=b"), ErrUnknownAttribute, ErrorClassPermanent},
		{"not writable", NewAttributeNotWritableError("x", "/a=b"), ErrAttributeNotWritable, ErrorClassPermanent},
		{"validation", NewValidationError("bad", nil), ErrValidationFailed, ErrorClassPermanent},
		{"phase ordering", NewInvalidPhaseOrderingError(PhaseRuntime, PhaseModel), ErrInvalidPhaseOrdering, ErrorClassProgramming},
		{"rollback", NewRollbackActionError(errors.New("x")), ErrRollbackActionFailed, ErrorClassPermanent},
		{"not found", NewResourceNotFoundError("/a=b", nil), ErrResourceNotFound, ErrorClassPermanent},
		{"duplicate", NewDuplicateResourceError("/a=b", nil), ErrDuplicateResource, ErrorClassConflict},
		{"denied", NewPermissionDeniedError("no", nil), ErrPermissionDenied, ErrorClassDenied},
		{"scope", NewOutOfLockScopeError("/a=c", "/a=b"), ErrOutOfLockScope, ErrorClassProgramming},
		{"model read-only", NewModelReadOnlyError("/a=b", PhaseVerify), ErrModelReadOnly, ErrorClassProgramming},
		{"lock timeout", NewLockTimeoutError("/a=b", nil), ErrLockTimeout, ErrorClassConflict},
		{"panic", NewHandlerPanicError("boom"), ErrHandlerPanic, ErrorClassProgramming},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, tt.err.Class)
			assert.True(t, errors.Is(tt.err, tt.sentinel))

			wrapped := fmt.Errorf("context: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.Equal(t, tt.err.Code, CodeOf(wrapped))
		})
	}

	assert.False(t, errors.Is(NewValidationError("bad", nil), ErrUnknownAttribute))
}

func TestEngineError_Messages(t *testing.T) {
	err := NewUnknownAttributeError("max-size", "/server=s1").WithOperation("write-attribute")
	assert.Equal(t, `[UNKNOWN_ATTRIBUTE] unknown attribute "max-size" (resource=/server=s1, operation=write-attribute)`, err.Error())
	assert.Equal(t, `unknown attribute "max-size"`, err.Description())
	assert.Equal(t, "max-size", err.Details["attribute"])

	cause := errors.New("must be positive")
	verr := NewValidationError("invalid value", cause)
	assert.Equal(t, "invalid value: must be positive", verr.Description())
	assert.ErrorIs(t, verr, cause)
}

func TestAsEngineError(t *testing.T) {
	assert.Nil(t, AsEngineError(nil))

	plain := errors.New("plain")
	e := AsEngineError(plain)
	require.NotNil(t, e)
	assert.Equal(t, ErrCodeInternal, e.Code)
	assert.ErrorIs(t, e, plain)

	orig := NewValidationError("bad", nil)
	assert.Same(t, orig, AsEngineError(fmt.Errorf("wrapped: %w", orig)))
}

func TestEngineError_CloneDoesNotTouchSentinel(t *testing.T) {
	c := ErrPermissionDenied.clone().WithResource("/a=b").WithDetail("k", "v")
	assert.Equal(t, "/a=b", c.Resource)
	assert.Empty(t, ErrPermissionDenied.Resource)
	assert.Nil(t, ErrPermissionDenied.Details)
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsConflict(NewDuplicateResourceError("/a=b", nil)))
	assert.True(t, IsPermanent(NewValidationError("x", nil)))
	assert.True(t, IsDenied(NewPermissionDeniedError("x", nil)))
	assert.True(t, IsProgramming(NewHandlerPanicError("x")))
	assert.False(t, IsConflict(errors.New("x")))
	assert.Empty(t, CodeOf(errors.New("x")))
}
