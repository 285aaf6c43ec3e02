// Package registry loads and validates Tool Configuration documents (§3,
// §4.3) from a directory of JSON files and resolves composite-sequence
// references between them.
package registry

import "encoding/json"

// ToolConfig is the complete declarative configuration for one CLI tool
// (§3 Tool Configuration). Unknown top-level fields are rejected at load
// time by the JSON Schema validator in loader.go, matching the strict
// `deny_unknown_fields` semantics a tool author relies on to catch typos.
type ToolConfig struct {
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	Command        string             `json:"command"`
	Subcommand     []SubcommandConfig `json:"subcommand,omitempty"`
	InputSchema    json.RawMessage    `json:"input_schema,omitempty"`
	TimeoutSeconds *uint64            `json:"timeout_seconds,omitempty"`
	// ForceSynchronous, when set, overrides the caller's sync/async choice
	// for every invocation of this tool. A subcommand's own
	// ForceSynchronous takes precedence over the tool-level value (the
	// resolved reading of the spec's synchronous-execution Open Question;
	// see DESIGN.md).
	ForceSynchronous    *bool              `json:"force_synchronous,omitempty"`
	Hints               ToolHints          `json:"hints,omitempty"`
	Enabled             *bool              `json:"enabled,omitempty"`
	GuidanceKey         string             `json:"guidance_key,omitempty"`
	Sequence            []SequenceStep     `json:"sequence,omitempty"`
	StepDelayMS         *uint64            `json:"step_delay_ms,omitempty"`
	AvailabilityCheck   *AvailabilityCheck `json:"availability_check,omitempty"`
	InstallInstructions string             `json:"install_instructions,omitempty"`
}

// IsEnabled reports whether the tool should be registered; absent means
// enabled by default.
func (c ToolConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// SubcommandConfig configures one (possibly nested) subcommand of a tool.
type SubcommandConfig struct {
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	Subcommand     []SubcommandConfig `json:"subcommand,omitempty"`
	Options        []CommandOption    `json:"options,omitempty"`
	PositionalArgs []CommandOption    `json:"positional_args,omitempty"`
	// PositionalArgsFirst controls whether positional arguments are
	// rendered before or after named flags (§4.3 argument assembly).
	PositionalArgsFirst bool               `json:"positional_args_first,omitempty"`
	TimeoutSeconds      *uint64            `json:"timeout_seconds,omitempty"`
	ForceSynchronous    *bool              `json:"force_synchronous,omitempty"`
	Enabled             *bool              `json:"enabled,omitempty"`
	GuidanceKey         string             `json:"guidance_key,omitempty"`
	Sequence            []SequenceStep     `json:"sequence,omitempty"`
	StepDelayMS         *uint64            `json:"step_delay_ms,omitempty"`
	AvailabilityCheck   *AvailabilityCheck `json:"availability_check,omitempty"`
	InstallInstructions string             `json:"install_instructions,omitempty"`
}

func (c SubcommandConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// CommandOption describes a single flag or positional argument accepted by
// a subcommand (§4.3 argument assembly).
type CommandOption struct {
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	Required    *bool      `json:"required,omitempty"`
	Format      string     `json:"format,omitempty"`
	Items       *ItemsSpec `json:"items,omitempty"`
	// FileArg, when true, instructs the adapter to spill the argument value
	// to a temporary file and pass a path instead, per the oversized/
	// control-character argument rule in §4.3.
	FileArg  *bool  `json:"file_arg,omitempty"`
	FileFlag string `json:"file_flag,omitempty"`
	Alias    string `json:"alias,omitempty"`
}

func (o CommandOption) IsRequired() bool { return o.Required != nil && *o.Required }
func (o CommandOption) IsFileArg() bool  { return o.FileArg != nil && *o.FileArg }

// ItemsSpec describes the element type of an "array"-typed CommandOption.
type ItemsSpec struct {
	Type        string `json:"type"`
	Format      string `json:"format,omitempty"`
	Description string `json:"description,omitempty"`
}

// ToolHints carries free-text guidance surfaced to an agent for common
// operation types, plus an open-ended custom map (§3).
type ToolHints struct {
	Build        string            `json:"build,omitempty"`
	Test         string            `json:"test,omitempty"`
	Dependencies string            `json:"dependencies,omitempty"`
	Clean        string            `json:"clean,omitempty"`
	Run          string            `json:"run,omitempty"`
	Custom       map[string]string `json:"custom,omitempty"`
}

// AvailabilityCheck defines a startup probe used to decide whether a tool
// is advertised to clients (§6 availability probes). Registry.ProbeAll runs
// only tool-level checks; a check set on a subcommand is not run.
type AvailabilityCheck struct {
	Command            string   `json:"command,omitempty"`
	Args               []string `json:"args,omitempty"`
	WorkingDirectory   string   `json:"working_directory,omitempty"`
	SuccessExitCodes   []int    `json:"success_exit_codes,omitempty"`
	SkipSubcommandArgs bool     `json:"skip_subcommand_args,omitempty"`
}

func (a AvailabilityCheck) successCodes() []int {
	if len(a.SuccessExitCodes) == 0 {
		return []int{0}
	}
	return a.SuccessExitCodes
}

// SequenceStep is one invocation within a composite tool's sequence (§4.3
// composite-sequence execution: strict ordering, fail-fast).
type SequenceStep struct {
	Tool        string         `json:"tool"`
	Subcommand  string         `json:"subcommand"`
	Args        map[string]any `json:"args,omitempty"`
	Description string         `json:"description,omitempty"`
}
