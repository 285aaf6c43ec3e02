package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ReservedToolNames are the built-in tools (§6) that a user-supplied
// configuration may never shadow.
var ReservedToolNames = []string{"await", "status", "sandboxed_shell"}

// ValidationError reports a tool configuration document that failed schema
// validation or a guard-rail check, tagged with the file it came from.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var schema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal([]byte(toolConfigSchemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("registry: invalid embedded schema: %v", err))
	}
	if err := c.AddResource("tool-config.json", doc); err != nil {
		panic(fmt.Sprintf("registry: schema resource rejected: %v", err))
	}
	s, err := c.Compile("tool-config.json")
	if err != nil {
		panic(fmt.Sprintf("registry: schema failed to compile: %v", err))
	}
	return s
}()

// ParseToolConfig validates raw against the strict tool configuration
// schema and, if it passes, decodes it into a ToolConfig.
func ParseToolConfig(raw []byte) (ToolConfig, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ToolConfig{}, fmt.Errorf("parse json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return ToolConfig{}, fmt.Errorf("schema validation: %w", err)
	}
	var cfg ToolConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ToolConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// LoadDirectory scans dir for *.json tool configuration files, validates
// and decodes each, and returns a map keyed by tool name. Disabled tools are
// omitted from the result but are not an error. A tool name colliding with
// one of ReservedToolNames, or with another tool already loaded from this
// directory, is a *ValidationError (§6 reserved-name guard rail).
//
// Files that fail to parse or validate are collected as errors but do not
// prevent the rest of the directory from loading, matching the original
// implementation's best-effort scan with per-file warnings.
func LoadDirectory(dir string) (map[string]ToolConfig, []error) {
	configs := make(map[string]ToolConfig)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return configs, nil
		}
		return configs, []error{fmt.Errorf("read tool config directory %q: %w", dir, err)}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, &ValidationError{Path: path, Err: err})
			continue
		}
		cfg, err := ParseToolConfig(raw)
		if err != nil {
			errs = append(errs, &ValidationError{Path: path, Err: err})
			continue
		}
		if isReserved(cfg.Name) {
			errs = append(errs, &ValidationError{
				Path: path,
				Err:  fmt.Errorf("tool name %q conflicts with a built-in tool; reserved names: %v", cfg.Name, ReservedToolNames),
			})
			continue
		}
		if _, dup := configs[cfg.Name]; dup {
			errs = append(errs, &ValidationError{
				Path: path,
				Err:  fmt.Errorf("tool name %q is already defined by another file in %s", cfg.Name, dir),
			})
			continue
		}
		if !cfg.IsEnabled() {
			continue
		}
		configs[cfg.Name] = cfg
	}
	return configs, errs
}

func isReserved(name string) bool {
	for _, r := range ReservedToolNames {
		if name == r {
			return true
		}
	}
	return false
}
