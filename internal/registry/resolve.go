package registry

import "fmt"

// Registry is the fully loaded, cross-checked set of tool configurations
// plus the guidance store, ready for the Execution Adapter to consume.
type Registry struct {
	Tools    map[string]ToolConfig
	Guidance *GuidanceStore
}

// Load loads every tool configuration under toolsDir and the guidance store
// at guidancePath, then resolves every composite sequence reference. It
// returns the registry plus any accumulated non-fatal file errors; a
// resolution error (an unknown tool/subcommand reference in a sequence) is
// always fatal since a composite tool that references a nonexistent step
// can never execute.
func Load(toolsDir, guidancePath string) (*Registry, []error, error) {
	tools, errs := LoadDirectory(toolsDir)
	guidance, err := LoadGuidanceStore(guidancePath)
	if err != nil {
		return nil, errs, err
	}
	reg := &Registry{Tools: tools, Guidance: guidance}
	if err := reg.resolveSequences(); err != nil {
		return nil, errs, err
	}
	return reg, errs, nil
}

// resolveSequences verifies that every SequenceStep in every composite tool
// (and nested subcommand) refers to a tool and subcommand that actually
// exist in this registry (§4.3 composite-sequence execution).
func (r *Registry) resolveSequences() error {
	for name, cfg := range r.Tools {
		if err := r.resolveSteps(cfg.Sequence); err != nil {
			return fmt.Errorf("tool %q: %w", name, err)
		}
		for _, sub := range cfg.Subcommand {
			if err := r.resolveSubSequences(name, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) resolveSubSequences(toolName string, sub SubcommandConfig) error {
	if err := r.resolveSteps(sub.Sequence); err != nil {
		return fmt.Errorf("tool %q subcommand %q: %w", toolName, sub.Name, err)
	}
	for _, nested := range sub.Subcommand {
		if err := r.resolveSubSequences(toolName, nested); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) resolveSteps(steps []SequenceStep) error {
	for _, step := range steps {
		cfg, ok := r.Tools[step.Tool]
		if !ok {
			return fmt.Errorf("sequence step references unknown tool %q", step.Tool)
		}
		// "default" (or an empty reference) addresses the tool's root
		// invocation and always resolves.
		if step.Subcommand == "" || step.Subcommand == "default" {
			continue
		}
		if !hasSubcommand(cfg.Subcommand, step.Subcommand) {
			return fmt.Errorf("sequence step references unknown subcommand %q of tool %q", step.Subcommand, step.Tool)
		}
	}
	return nil
}

func hasSubcommand(subs []SubcommandConfig, name string) bool {
	for _, s := range subs {
		if s.Name == name {
			return true
		}
	}
	return false
}

// FindSubcommand walks a tool's subcommand tree by a slash-free path of
// names (e.g. resolving "cargo test unit" into its innermost SubcommandConfig),
// returning the chain from outermost to innermost match.
func FindSubcommand(subs []SubcommandConfig, path []string) ([]SubcommandConfig, bool) {
	if len(path) == 0 {
		return nil, true
	}
	for _, s := range subs {
		if s.Name != path[0] {
			continue
		}
		rest, ok := FindSubcommand(s.Subcommand, path[1:])
		if !ok {
			return nil, false
		}
		return append([]SubcommandConfig{s}, rest...), true
	}
	return nil, false
}
