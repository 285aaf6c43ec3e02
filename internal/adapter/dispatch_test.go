package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahma-project/mcp-shelladapter/internal/registry"
)

// TestResolveSynchronousPrecedence checks the resolved Open Question in
// DESIGN.md: a subcommand's own force_synchronous overrides the tool's,
// which overrides the caller's own async preference.
func TestResolveSynchronousPrecedence(t *testing.T) {
	yes, no := true, false

	t.Run("subcommand overrides tool", func(t *testing.T) {
		tool := registry.ToolConfig{ForceSynchronous: &no}
		chain := []registry.SubcommandConfig{{ForceSynchronous: &yes}}
		assert.True(t, ResolveSynchronous(tool, chain, true))
	})

	t.Run("tool overrides caller when subcommand unset", func(t *testing.T) {
		tool := registry.ToolConfig{ForceSynchronous: &yes}
		chain := []registry.SubcommandConfig{{}}
		assert.True(t, ResolveSynchronous(tool, chain, true))
	})

	t.Run("caller preference used when nothing configured", func(t *testing.T) {
		tool := registry.ToolConfig{}
		assert.False(t, ResolveSynchronous(tool, nil, true))
		assert.True(t, ResolveSynchronous(tool, nil, false))
	})

	t.Run("innermost subcommand in a nested chain wins", func(t *testing.T) {
		tool := registry.ToolConfig{}
		chain := []registry.SubcommandConfig{
			{ForceSynchronous: &yes},
			{ForceSynchronous: &no},
		}
		assert.False(t, ResolveSynchronous(tool, chain, false))
	})
}

func TestResolveTimeoutPrecedence(t *testing.T) {
	subTimeout := uint64(5)
	toolTimeout := uint64(30)

	t.Run("subcommand timeout wins", func(t *testing.T) {
		tool := registry.ToolConfig{TimeoutSeconds: &toolTimeout}
		chain := []registry.SubcommandConfig{{TimeoutSeconds: &subTimeout}}
		assert.Equal(t, subTimeout, ResolveTimeout(tool, chain, 60))
	})

	t.Run("falls back to tool then default", func(t *testing.T) {
		tool := registry.ToolConfig{TimeoutSeconds: &toolTimeout}
		assert.Equal(t, toolTimeout, ResolveTimeout(tool, nil, 60))
		assert.Equal(t, uint64(60), ResolveTimeout(registry.ToolConfig{}, nil, 60))
	})
}
