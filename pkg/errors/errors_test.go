package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineErrorMessage(t *testing.T) {
	err := New(CategoryLedger, CodeUnknownMatch, "unknown match: m-1")
	assert.Equal(t, "unknown match: m-1", err.Error())

	err = err.WithSuggestion("check the match ID")
	assert.Contains(t, err.Error(), "suggestion: check the match ID")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(cause, CategoryInternal, CodeUnexpectedError, "write failed")

	require.NotNil(t, err)
	assert.Equal(t, cause, err.Unwrap())
	assert.Nil(t, Wrap(nil, CategoryInternal, CodeUnexpectedError, "no-op"))
}

func TestValidationError(t *testing.T) {
	err := ValidationError(CodeMissingField, "counterparty_id", "")

	assert.True(t, IsValidation(err))
	assert.True(t, HasCode(err, CodeMissingField))
	assert.Equal(t, "counterparty_id", err.Context["field"])
	assert.NotEmpty(t, err.Suggestion)
}

func TestTypedConstructors(t *testing.T) {
	dup := DuplicateActiveMatch("L-001")
	assert.True(t, IsDuplicateActiveMatch(dup))
	assert.Equal(t, CategoryLedger, dup.Category)

	notReady := NotReady("run-1", "aggregate open variance 50.00 exceeds tolerance")
	assert.True(t, IsNotReady(notReady))
	assert.Contains(t, notReady.Message, "50.00")
	assert.Equal(t, "run-1", notReady.Context["run_id"])

	concurrent := ConcurrentRun("run-1")
	assert.True(t, IsConcurrentRun(concurrent))
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{ValidationError(CodeMissingField, "f", nil), 2},
		{DuplicateActiveMatch("L-001"), 3},
		{ConfigurationError("bad config", nil), 4},
		{NotReady("run-1", "blocked"), 5},
		{InternalError("boom", nil), 6},
		{fmt.Errorf("plain error"), 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, GetExitCode(tt.err))
	}
}

func TestHelpersOnForeignErrors(t *testing.T) {
	plain := fmt.Errorf("plain error")

	_, ok := GetCategory(plain)
	assert.False(t, ok)
	assert.False(t, HasCode(plain, CodeNotReady))
	assert.False(t, IsValidation(plain))
}

func TestHelpersUnwrapNestedErrors(t *testing.T) {
	inner := NotReady("run-1", "blocked")
	outer := fmt.Errorf("sign-off failed: %w", inner)

	assert.True(t, IsNotReady(outer))

	code, ok := GetCode(outer)
	require.True(t, ok)
	assert.Equal(t, CodeNotReady, code)
}

func TestFormatUserMessage(t *testing.T) {
	err := NotReady("run-1", "aggregate open variance 50.00 exceeds tolerance")

	msg := FormatUserMessage(err)
	assert.Contains(t, msg, "Error:")
	assert.Contains(t, msg, "Suggestion:")
	assert.Contains(t, msg, "run-1")

	assert.Equal(t, "plain error", FormatUserMessage(fmt.Errorf("plain error")))
}

func TestStackTraceCaptured(t *testing.T) {
	err := New(CategoryInternal, CodeUnexpectedError, "boom")
	assert.NotEmpty(t, err.StackTrace)
}
