package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromCode(t *testing.T) {
	tests := []struct {
		code string
		kind Kind
	}{
		{CodeConfigInvalid, KindConfig},
		{CodePathTraversal, KindPath},
		{CodeBackendTimeout, KindBackend},
		{CodeResourceBusy, KindResourceBusy},
		{CodeDbBusy, KindDbBusy},
		{CodeIntegrity, KindIntegrity},
		{CodeDocHashMismatch, KindIntegrity},
		{CodeCancelled, KindCancelled},
		{CodeFatal, KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.kind, New(tt.code, "x", nil).Kind)
		})
	}
}

func TestResourceBusyPayload(t *testing.T) {
	err := ResourceBusy("file:foo.py", "agent-42", 512)

	assert.Equal(t, KindResourceBusy, err.Kind)
	assert.Equal(t, "agent-42", err.Details["holder"])
	assert.Equal(t, "512", err.Details["waited_ms"])
	assert.True(t, err.Retryable)
}

func TestWrapPreservesExistingError(t *testing.T) {
	orig := Integrity("graph invariant violated", nil)
	wrapped := Wrap(CodeFatal, fmt.Errorf("job failed: %w", orig))

	assert.Equal(t, CodeIntegrity, wrapped.Code)
	assert.Equal(t, KindIntegrity, wrapped.Kind)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeFatal, nil))
}

func TestUnwrapChain(t *testing.T) {
	cause := stderrors.New("disk full")
	err := New(CodeIntegrity, "cannot write artifact", cause)

	require.ErrorIs(t, err, err)
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 3, ExitCode(Config("missing profile", nil)))
	assert.Equal(t, 4, ExitCode(ResourceBusy("db", "x", 1000)))
	assert.Equal(t, 4, ExitCode(DbBusy(1000, nil)))
	assert.Equal(t, 5, ExitCode(Integrity("dangling edge", nil)))
	assert.Equal(t, 1, ExitCode(stderrors.New("plain")))
}

func TestFormatForCLISingleLine(t *testing.T) {
	err := DbBusy(1200, stderrors.New("SQLITE_BUSY"))
	out := FormatForCLI(err)

	assert.Equal(t, "error: database writer busy (ERR_402_DB_BUSY)", out)
	assert.NotContains(t, out, "\n")
}

func TestFormatDetailsSorted(t *testing.T) {
	err := New(CodeResourceBusy, "busy", nil).
		WithDetail("b", "2").
		WithDetail("a", "1")

	assert.Equal(t, "a=1 b=2", FormatDetails(err))
}
