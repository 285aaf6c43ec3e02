package adapter

import "github.com/ahma-project/mcp-shelladapter/internal/registry"

// ResolveSynchronous decides whether one invocation must run synchronously,
// applying the documented precedence: a subcommand's own force_synchronous
// setting overrides the tool-level one, which in turn overrides the
// caller's own --async preference (§4.3 / resolved Open Question, see
// DESIGN.md: subcommand-level force_synchronous takes precedence over the
// tool-level value because it is the more specific configuration).
func ResolveSynchronous(tool registry.ToolConfig, chain []registry.SubcommandConfig, callerWantsAsync bool) bool {
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].ForceSynchronous != nil {
			return *chain[i].ForceSynchronous
		}
	}
	if tool.ForceSynchronous != nil {
		return *tool.ForceSynchronous
	}
	return !callerWantsAsync
}

// ResolveTimeout picks the effective timeout in seconds for one invocation,
// preferring the most specific configured value: subcommand, then tool,
// then the provided default.
func ResolveTimeout(tool registry.ToolConfig, chain []registry.SubcommandConfig, defaultSeconds uint64) uint64 {
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].TimeoutSeconds != nil {
			return *chain[i].TimeoutSeconds
		}
	}
	if tool.TimeoutSeconds != nil {
		return *tool.TimeoutSeconds
	}
	return defaultSeconds
}
