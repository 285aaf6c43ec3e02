package toolerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextAddsReproductionDetails(t *testing.T) {
	err := New("shell process died").WithContext("cargo", []string{"build", "release"}, "/home/proj")
	msg := err.Error()
	assert.Contains(t, msg, "tool=cargo")
	assert.Contains(t, msg, "subcommand=build release")
	assert.Contains(t, msg, "working_dir=/home/proj")
}

func TestFromErrorPreservesExistingToolError(t *testing.T) {
	inner := New("pool full")
	got := FromError(inner)
	require.Same(t, inner, got)
}

func TestUnwrapChainsToCause(t *testing.T) {
	cause := New("root cause")
	err := &ToolError{Message: "outer", Cause: cause}
	require.Equal(t, error(cause), errors.Unwrap(err))
}

func TestErrorfFormatsMessage(t *testing.T) {
	err := Errorf("unknown tool %q", "cargo")
	assert.Equal(t, `unknown tool "cargo"`, err.Error())
}
