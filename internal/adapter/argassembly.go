// Package adapter implements the Execution Adapter (§4.3): it turns a
// declarative Tool Configuration plus a caller-supplied argument map into a
// concrete argv, decides sync/async dispatch, and drives composite
// sequences.
package adapter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/ahma-project/mcp-shelladapter/internal/registry"
)

// fileArgThreshold is the byte length above which a string argument is
// spilled to a temporary file instead of being passed on the command line,
// matching the original implementation's 8192-byte cutoff.
const fileArgThreshold = 8192

// reservedArgumentKeys are argument-map keys the adapter interprets itself
// rather than passing through as CLI options (§4.3).
var reservedArgumentKeys = map[string]bool{
	"_subcommand":      true,
	"working_directory": true,
}

// NeedsFileHandling reports whether value must be written to a temporary
// file and passed by path rather than inlined on the command line: it is
// over the length threshold, or it contains characters a shell would need
// to interpret (quotes, backslash, backtick, dollar sign) or embedded
// newlines/carriage returns/other control characters.
func NeedsFileHandling(value string) bool {
	if len(value) > fileArgThreshold {
		return true
	}
	for _, r := range value {
		switch r {
		case '\'', '"', '\\', '`', '$', '\n', '\r':
			return true
		}
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// EscapeShellArgument wraps value in single quotes for POSIX shell
// consumption, replacing each embedded single quote with '\'' — close the
// quoted string, emit an escaped literal quote, reopen the quoted string
// (§4.3's canonical POSIX-safe escaping scheme).
func EscapeShellArgument(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// isReservedKey reports whether key is interpreted by the adapter itself
// (rather than passed through as a CLI option), including the convention
// that any key prefixed with "_" is adapter-internal.
func isReservedKey(key string) bool {
	if reservedArgumentKeys[key] {
		return true
	}
	return strings.HasPrefix(key, "_")
}

// FileSpill describes one argument value that was written to a temporary
// file rather than inlined, so the caller can clean it up after the command
// completes.
type FileSpill struct {
	Path string
}

// Assembled is the result of resolving a subcommand chain and an argument
// map into a concrete argv.
type Assembled struct {
	Argv   []string
	Spills []FileSpill
}

// AssembleArgs resolves chain (the subcommand path from outermost to
// innermost, possibly empty for a tool with no subcommands) and args (the
// caller-supplied argument map) into argv, per §4.3's argument assembly
// algorithm:
//
//  1. Start argv with the tool's base command.
//  2. Append each subcommand name in chain, in order.
//  3. Resolve positional arguments first if the innermost subcommand config
//     declares positional_args_first, otherwise after named options.
//  4. For each named option, format its value according to its declared
//     type (boolean flags are presence-only, arrays repeat the flag,
//     strings/numbers pass a single value).
//  5. Oversized or shell-unsafe string values are spilled to a temporary
//     file via writeSpill and passed as a path instead.
func AssembleArgs(command string, chain []registry.SubcommandConfig, args map[string]any, writeSpill func(value string) (string, error)) (Assembled, error) {
	argv := []string{command}
	for _, step := range chain {
		// "default" is the sentinel for a tool's root invocation; it never
		// appears on the assembled command line (§4.3).
		if step.Name == "default" {
			continue
		}
		argv = append(argv, step.Name)
	}

	var options, positional []registry.CommandOption
	var positionalFirst bool
	if len(chain) > 0 {
		innermost := chain[len(chain)-1]
		options = innermost.Options
		positional = innermost.PositionalArgs
	}

	result := Assembled{}

	appendPositional := func() error {
		for _, p := range positional {
			v, ok := args[p.Name]
			if !ok {
				if p.IsRequired() {
					return fmt.Errorf("missing required positional argument %q", p.Name)
				}
				continue
			}
			rendered, spill, err := renderValue(p, v, writeSpill)
			if err != nil {
				return fmt.Errorf("positional argument %q: %w", p.Name, err)
			}
			argv = append(argv, rendered...)
			if spill != nil {
				result.Spills = append(result.Spills, *spill)
			}
		}
		return nil
	}

	appendOptions := func() error {
		// Stable, deterministic ordering: declaration order from the config,
		// then any remaining caller-supplied keys not covered by it.
		seen := make(map[string]bool, len(options))
		for _, opt := range options {
			seen[opt.Name] = true
			v, ok := args[opt.Name]
			if !ok {
				if opt.IsRequired() {
					return fmt.Errorf("missing required option %q", opt.Name)
				}
				continue
			}
			flag := flagName(opt)
			rendered, spill, err := renderFlag(opt, flag, v, writeSpill)
			if err != nil {
				return fmt.Errorf("option %q: %w", opt.Name, err)
			}
			argv = append(argv, rendered...)
			if spill != nil {
				result.Spills = append(result.Spills, *spill)
			}
		}
		var extra []string
		for k := range args {
			if seen[k] || isReservedKey(k) || isPositional(positional, k) {
				continue
			}
			extra = append(extra, k)
		}
		sort.Strings(extra)
		for _, k := range extra {
			argv = append(argv, "--"+k, fmt.Sprint(args[k]))
		}
		return nil
	}

	positionalFirst = len(chain) > 0 && chainWantsPositionalFirst(chain[len(chain)-1])
	if positionalFirst {
		if err := appendPositional(); err != nil {
			return Assembled{}, err
		}
		if err := appendOptions(); err != nil {
			return Assembled{}, err
		}
	} else {
		if err := appendOptions(); err != nil {
			return Assembled{}, err
		}
		if err := appendPositional(); err != nil {
			return Assembled{}, err
		}
	}

	result.Argv = argv
	return result, nil
}

// chainWantsPositionalFirst reports whether sub declares
// positional_args_first semantics (§4.3).
func chainWantsPositionalFirst(sub registry.SubcommandConfig) bool {
	return sub.PositionalArgsFirst
}

func isPositional(positional []registry.CommandOption, key string) bool {
	for _, p := range positional {
		if p.Name == key {
			return true
		}
	}
	return false
}

func flagName(opt registry.CommandOption) string {
	if opt.Alias != "" {
		return opt.Alias
	}
	return "--" + opt.Name
}

func renderFlag(opt registry.CommandOption, flag string, v any, writeSpill func(string) (string, error)) ([]string, *FileSpill, error) {
	switch opt.Type {
	case "boolean":
		b, ok := v.(bool)
		if !ok || !b {
			return nil, nil, nil
		}
		return []string{flag}, nil, nil
	case "array":
		items, ok := v.([]any)
		if !ok {
			return nil, nil, fmt.Errorf("expected array, got %T", v)
		}
		var out []string
		for _, item := range items {
			out = append(out, flag, fmt.Sprint(item))
		}
		return out, nil, nil
	default:
		rendered, spill, err := renderScalar(opt, toArgString(opt, v), writeSpill)
		if err != nil {
			return nil, nil, err
		}
		if spill != nil && opt.FileFlag != "" {
			// The file flag stands in for the option's own flag.
			return rendered, spill, nil
		}
		return append([]string{flag}, rendered...), spill, nil
	}
}

// toArgString stringifies v for a scalar CLI value, rendering JSON numbers
// without a spurious trailing ".0" when the declared option type is
// "number" or "integer".
func toArgString(opt registry.CommandOption, v any) string {
	if f, ok := v.(float64); ok && (opt.Type == "number" || opt.Type == "integer") {
		return formatNumber(f)
	}
	return fmt.Sprint(v)
}

func renderValue(opt registry.CommandOption, v any, writeSpill func(string) (string, error)) ([]string, *FileSpill, error) {
	switch opt.Type {
	case "array":
		items, ok := v.([]any)
		if !ok {
			return nil, nil, fmt.Errorf("expected array, got %T", v)
		}
		var out []string
		for _, item := range items {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil, nil
	default:
		return renderScalar(opt, toArgString(opt, v), writeSpill)
	}
}

func renderScalar(opt registry.CommandOption, s string, writeSpill func(string) (string, error)) ([]string, *FileSpill, error) {
	if opt.IsFileArg() && NeedsFileHandling(s) {
		if writeSpill == nil {
			return nil, nil, fmt.Errorf("value requires file spilling but no spill writer was configured")
		}
		path, err := writeSpill(s)
		if err != nil {
			return nil, nil, fmt.Errorf("spill argument to temp file: %w", err)
		}
		if opt.FileFlag != "" {
			return []string{opt.FileFlag, path}, &FileSpill{Path: path}, nil
		}
		return []string{path}, &FileSpill{Path: path}, nil
	}
	return []string{s}, nil, nil
}

// formatNumber renders a JSON-decoded numeric value (float64) without a
// trailing ".0" for integral values, matching how a CLI flag typically
// expects an integer to look.
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
