package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ahma-project/mcp-shelladapter/internal/ops"
)

// builtinHandler implements one of the three reserved tools named in §6.
type builtinHandler func(ctx context.Context, s *Session, params CallParams) (CallResult, error)

var builtinHandlers = map[string]builtinHandler{
	"await":           handleAwait,
	"status":          handleStatus,
	"sandboxed_shell": handleSandboxedShell,
}

func builtinDescriptors() []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:        "await",
			Description: "Block until a named operation, or every active operation whose tool name matches any of the given prefixes, reaches a terminal state.",
		},
		{
			Name:        "status",
			Description: "Report the current state of a named operation, or every active operation, without blocking.",
		},
		{
			Name:        "sandboxed_shell",
			Description: "Run an arbitrary shell command inside the negotiated sandbox scope, bypassing the declarative tool registry.",
		},
	}
}

// stringSliceArg accepts either a JSON array of strings or a single
// comma-separated string under key, matching how agents most often supply
// a tool-prefix filter.
func stringSliceArg(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func operationResult(op ops.Operation) CallResult {
	payload, _ := json.Marshal(op)
	return CallResult{OperationID: op.ID, Output: string(payload)}
}

// handleAwait implements the "await" built-in (§6): wait on a single
// operation id, or on every active operation matching a set of tool-name
// prefixes, then report.
func handleAwait(ctx context.Context, s *Session, params CallParams) (CallResult, error) {
	if id := stringArg(params.Arguments, "operation_id"); id != "" {
		op, ok := s.monitor.WaitFor(ctx, id)
		if !ok {
			return CallResult{}, fmt.Errorf("unknown operation %q", id)
		}
		return operationResult(op), nil
	}

	prefixes := stringSliceArg(params.Arguments, "tools")
	waitOn := prefixes
	if len(waitOn) == 0 {
		// No filter: wait on every active operation (the empty prefix
		// matches all tool names).
		waitOn = []string{""}
	}
	s.monitor.WaitForPrefix(ctx, waitOn)

	var matched []ops.Operation
	for _, op := range s.monitor.Completed() {
		if len(prefixes) == 0 || hasAnyPrefix(op.Tool, prefixes) {
			matched = append(matched, op)
		}
	}
	payload, _ := json.Marshal(matched)
	return CallResult{Output: string(payload)}, nil
}

// handleStatus implements the "status" built-in (§6): a non-blocking
// snapshot of one operation, or of every currently active operation.
func handleStatus(_ context.Context, s *Session, params CallParams) (CallResult, error) {
	if id := stringArg(params.Arguments, "operation_id"); id != "" {
		op, ok := s.monitor.Get(id)
		if !ok {
			return CallResult{}, fmt.Errorf("unknown operation %q", id)
		}
		return operationResult(op), nil
	}

	prefixes := stringSliceArg(params.Arguments, "tools")
	var matched []ops.Operation
	for _, op := range s.monitor.Active() {
		if len(prefixes) == 0 || hasAnyPrefix(op.Tool, prefixes) {
			matched = append(matched, op)
		}
	}
	payload, _ := json.Marshal(matched)
	return CallResult{Output: string(payload)}, nil
}

// handleSandboxedShell implements the "sandboxed_shell" built-in (§6): a
// raw command run through the Shell Pool and sandbox scope check without
// any declarative tool configuration.
func handleSandboxedShell(ctx context.Context, s *Session, params CallParams) (CallResult, error) {
	command := stringArg(params.Arguments, "command")
	if command == "" {
		return CallResult{}, fmt.Errorf("sandboxed_shell requires a non-empty %q argument", "command")
	}
	timeout := 30 * time.Second
	res, err := s.adapter.RunShell(ctx, command, params.workingDir(), timeout)
	if err != nil {
		return CallResult{}, err
	}
	return CallResult{ExitCode: res.ExitCode, Output: res.Output, DurationMS: res.DurationMS}, nil
}

func hasAnyPrefix(tool string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(tool, p) {
			return true
		}
	}
	return false
}
