// Package config loads server-level operating knobs (pool capacities,
// timeouts, sandbox mode, handshake timeout) from a YAML file, the AMBIENT
// STACK configuration layer of SPEC_FULL.md §0. Per-tool declarative
// configuration (§3 Tool Configuration) is a separate, JSON concern owned
// by internal/registry.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Server is the complete set of server-level knobs. Zero values are
// replaced by Defaults()'s values for any field the YAML document omits.
type Server struct {
	// ToolsDir is the directory LoadDirectory scans for tool configuration
	// JSON files (§6).
	ToolsDir string `yaml:"tools_dir"`
	// GuidancePath is the tool_guidance.json path (§3 guidance_key).
	GuidancePath string `yaml:"guidance_path"`

	// ShellPool knobs (§4.2).
	ShellPoolPerDirectoryCapacity int           `yaml:"shell_pool_per_directory_capacity"`
	ShellPoolGlobalCapacity       int           `yaml:"shell_pool_global_capacity"`
	ShellIdleTimeout              time.Duration `yaml:"shell_idle_timeout"`
	ShellHealthCheckInterval      time.Duration `yaml:"shell_health_check_interval"`
	ShellHarnessPath              string        `yaml:"shell_harness_path"`

	// Operation Monitor knobs (§4.1).
	OperationDefaultTimeout time.Duration `yaml:"operation_default_timeout"`
	CompletionHistorySize   int           `yaml:"completion_history_size"`

	// Execution Adapter knobs (§4.3).
	DefaultCommandTimeout time.Duration `yaml:"default_command_timeout"`
	SequenceStepDelay     time.Duration `yaml:"sequence_step_delay"`

	// Log Monitor knobs (§4.3): LogMonitorLevel is the minimum severity that
	// raises an alert ("warning" | "error" | "critical"); LogMonitorStream is
	// the watched stream ("stdout" | "stderr" | "both"); MaxOutputBytes
	// bounds the full output attached to a final result.
	LogMonitorLevel  string `yaml:"log_monitor_level"`
	LogMonitorStream string `yaml:"log_monitor_stream"`
	MaxOutputBytes   int    `yaml:"max_output_bytes"`

	// Sandbox / handshake knobs (§4.4).
	SandboxMode           string        `yaml:"sandbox_mode"` // "strict" | "test-bypass"
	NoSandbox             bool          `yaml:"no_sandbox"`
	NoTempFiles           bool          `yaml:"no_temp_files"`
	HandshakeTimeout      time.Duration `yaml:"handshake_timeout"`
	LegacySandboxScope    string        `yaml:"legacy_sandbox_scope"`

	// DisabledTools names tools to skip at startup regardless of their
	// on-disk configuration (§6 environment knobs).
	DisabledTools []string `yaml:"disabled_tools"`

	// ShutdownGracePeriod bounds how long in-flight operations are given to
	// finish naturally on SIGINT/SIGTERM before being cancelled (§5).
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

// Defaults returns a Server populated with the production defaults the
// original implementation shipped, used to fill in any field a loaded YAML
// document leaves zero.
func Defaults() Server {
	return Server{
		ToolsDir:                      "tools.d",
		GuidancePath:                  "tool_guidance.json",
		ShellPoolPerDirectoryCapacity: 4,
		ShellPoolGlobalCapacity:       32,
		ShellIdleTimeout:              10 * time.Minute,
		ShellHealthCheckInterval:      time.Minute,
		ShellHarnessPath:              "shellharness",
		OperationDefaultTimeout:       0, // disabled unless configured
		CompletionHistorySize:         256,
		DefaultCommandTimeout:         30 * time.Second,
		SequenceStepDelay:             0,
		LogMonitorLevel:               "error",
		LogMonitorStream:              "both",
		MaxOutputBytes:                1 << 20,
		SandboxMode:                   "strict",
		HandshakeTimeout:              30 * time.Second,
		ShutdownGracePeriod:           10 * time.Second,
	}
}

// Load reads path as YAML and overlays it onto Defaults(). A missing file
// is not an error — Defaults() alone is a valid configuration.
func Load(path string) (Server, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Server{}, fmt.Errorf("read server config %q: %w", path, err)
	}

	// Decode into a fresh struct so that fields absent from the document
	// don't clobber the defaults already in cfg; only explicitly-set fields
	// overwrite them.
	var overlay Server
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return Server{}, fmt.Errorf("parse server config %q: %w", path, err)
	}
	cfg.merge(overlay)
	return cfg, nil
}

func (c *Server) merge(o Server) {
	if o.ToolsDir != "" {
		c.ToolsDir = o.ToolsDir
	}
	if o.GuidancePath != "" {
		c.GuidancePath = o.GuidancePath
	}
	if o.ShellPoolPerDirectoryCapacity != 0 {
		c.ShellPoolPerDirectoryCapacity = o.ShellPoolPerDirectoryCapacity
	}
	if o.ShellPoolGlobalCapacity != 0 {
		c.ShellPoolGlobalCapacity = o.ShellPoolGlobalCapacity
	}
	if o.ShellIdleTimeout != 0 {
		c.ShellIdleTimeout = o.ShellIdleTimeout
	}
	if o.ShellHealthCheckInterval != 0 {
		c.ShellHealthCheckInterval = o.ShellHealthCheckInterval
	}
	if o.ShellHarnessPath != "" {
		c.ShellHarnessPath = o.ShellHarnessPath
	}
	if o.OperationDefaultTimeout != 0 {
		c.OperationDefaultTimeout = o.OperationDefaultTimeout
	}
	if o.CompletionHistorySize != 0 {
		c.CompletionHistorySize = o.CompletionHistorySize
	}
	if o.DefaultCommandTimeout != 0 {
		c.DefaultCommandTimeout = o.DefaultCommandTimeout
	}
	if o.SequenceStepDelay != 0 {
		c.SequenceStepDelay = o.SequenceStepDelay
	}
	if o.LogMonitorLevel != "" {
		c.LogMonitorLevel = o.LogMonitorLevel
	}
	if o.LogMonitorStream != "" {
		c.LogMonitorStream = o.LogMonitorStream
	}
	if o.MaxOutputBytes != 0 {
		c.MaxOutputBytes = o.MaxOutputBytes
	}
	if o.SandboxMode != "" {
		c.SandboxMode = o.SandboxMode
	}
	if o.NoSandbox {
		c.NoSandbox = true
	}
	if o.NoTempFiles {
		c.NoTempFiles = true
	}
	if o.HandshakeTimeout != 0 {
		c.HandshakeTimeout = o.HandshakeTimeout
	}
	if o.LegacySandboxScope != "" {
		c.LegacySandboxScope = o.LegacySandboxScope
	}
	if len(o.DisabledTools) > 0 {
		c.DisabledTools = o.DisabledTools
	}
	if o.ShutdownGracePeriod != 0 {
		c.ShutdownGracePeriod = o.ShutdownGracePeriod
	}
}
