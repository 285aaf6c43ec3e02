package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ahma-project/mcp-shelladapter/internal/adapter"
	"github.com/ahma-project/mcp-shelladapter/internal/registry"
	"github.com/ahma-project/mcp-shelladapter/internal/sandbox"
)

// HandleInitialize advances the handshake on receipt of the initialize
// request (§4.4: AwaitingInitialize -> AwaitingSSEStream).
func (s *Session) HandleInitialize() error {
	return s.handshake.HandleInitialize()
}

// HandleSSEOpen advances the handshake once the transport's SSE stream (or
// its stdio equivalent) is open (§4.4: AwaitingSSEStream ->
// AwaitingInitializedNotification).
func (s *Session) HandleSSEOpen() error {
	return s.handshake.HandleSSEOpen()
}

// HandleInitializedNotification advances the handshake on receipt of
// notifications/initialized and returns the roots/list request the
// transport must forward to the client next (§4.4:
// AwaitingInitializedNotification -> AwaitingRootsResponse).
func (s *Session) HandleInitializedNotification() (Notification, error) {
	if err := s.handshake.HandleInitialized(); err != nil {
		return Notification{}, err
	}
	return newNotification("roots/list", nil), nil
}

// HandleRootsResponse feeds the client's negotiated roots into the
// handshake. On success the handshake locks, the resulting scope is wired
// into the Execution Adapter, and a notifications/sandbox/configured
// notification is returned; on failure notifications/sandbox/failed is
// returned alongside the error.
func (s *Session) HandleRootsResponse(roots []sandbox.RootURI) (Notification, error) {
	err := s.handshake.HandleRootsResponse(roots)
	if err != nil {
		return newNotification("notifications/sandbox/failed", map[string]string{
			"error": err.Error(),
		}), err
	}
	scope := s.handshake.Scope()
	s.adapter.SetScope(&scope)
	return newNotification("notifications/sandbox/configured", map[string]any{
		"roots": scope.Roots(),
	}), nil
}

// ToolDescriptor is one entry of a tools/list result: the name a caller
// passes to tools/call plus the metadata an agent uses to decide whether
// and how to invoke it (§3, §6).
type ToolDescriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema json.RawMessage    `json:"input_schema,omitempty"`
	Guidance    string             `json:"guidance,omitempty"`
	Hints       registry.ToolHints `json:"hints,omitempty"`
}

// ToolsListResult is the result payload of a tools/list request.
type ToolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ToolsList enumerates every enabled, non-disabled configured tool plus the
// three reserved built-ins (§6).
func (s *Session) ToolsList() ToolsListResult {
	result := ToolsListResult{Tools: builtinDescriptors()}
	names := make([]string, 0, len(s.registry.Tools))
	for name := range s.registry.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cfg := s.registry.Tools[name]
		if !cfg.IsEnabled() || s.disabled[name] {
			continue
		}
		guidance, _ := s.registry.Guidance.Lookup(cfg.GuidanceKey)
		result.Tools = append(result.Tools, ToolDescriptor{
			Name:        name,
			Description: cfg.Description,
			InputSchema: cfg.InputSchema,
			Guidance:    guidance,
			Hints:       cfg.Hints,
		})
	}
	return result
}

// CallParams is the params object of a tools/call request. The working
// directory travels inside the arguments map under the reserved
// "working_directory" key (§4.3); a top-level field is also honored for
// callers that set it there.
type CallParams struct {
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
	WorkingDir string         `json:"working_directory,omitempty"`
	Async      bool           `json:"async,omitempty"`
	Meta       *CallMeta      `json:"_meta,omitempty"`
}

// CallMeta is the optional _meta object of a tools/call request. When
// ProgressToken is set it is echoed on every notifications/progress
// emission for this call (§6, Testable Property 8).
type CallMeta struct {
	ProgressToken string `json:"progressToken,omitempty"`
}

func (p CallParams) progressToken() string {
	if p.Meta == nil {
		return ""
	}
	return p.Meta.ProgressToken
}

func (p CallParams) workingDir() string {
	if wd, ok := p.Arguments["working_directory"].(string); ok && wd != "" {
		return wd
	}
	return p.WorkingDir
}

// CallResult is the tools/call response for a synchronous invocation, or
// the operation handle for an asynchronous one.
type CallResult struct {
	OperationID string `json:"operation_id,omitempty"`
	ExitCode    int    `json:"exit_code,omitempty"`
	Output      string `json:"output,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
}

// subcommandPath splits a dotted tool name like "cargo.test.unit" into its
// root tool name and subcommand chain, the convention tools/call uses to
// address a nested subcommand (§6).
func subcommandPath(name string) (string, []string) {
	parts := strings.Split(name, ".")
	return parts[0], parts[1:]
}

// ToolsCall dispatches a tools/call request. Built-in tools (await, status,
// sandboxed_shell) are handled directly against the Operation Monitor and
// Shell Pool; every other name is resolved against the registry and run
// through the Execution Adapter.
func (s *Session) ToolsCall(ctx context.Context, params CallParams) (CallResult, error) {
	if s.disabled[params.Name] {
		return CallResult{}, fmt.Errorf("tool %q is disabled", params.Name)
	}
	if handler, ok := builtinHandlers[params.Name]; ok {
		return handler(ctx, s, params)
	}

	tool, path := subcommandPath(params.Name)
	res, err := s.adapter.Dispatch(ctx, adapter.Invocation{
		ToolName:       tool,
		SubcommandPath: path,
		Args:           params.Arguments,
		WorkingDir:     params.workingDir(),
		Async:          params.Async,
		ProgressToken:  params.progressToken(),
	}, s.sink())
	if err != nil {
		return CallResult{}, err
	}
	return CallResult{
		OperationID: res.OperationID,
		ExitCode:    res.ExitCode,
		Output:      res.Output,
		DurationMS:  res.DurationMS,
	}, nil
}
