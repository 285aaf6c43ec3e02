package registry

import (
	"context"
	"os/exec"
	"sort"
)

// ProbeAvailability runs check's command (defaulting to fallbackCommand, the
// owning tool's own command) and reports whether its exit code is among the
// check's configured success codes (§6 availability probes, run once at
// server startup by ProbeAll to decide which tools to advertise).
func ProbeAvailability(ctx context.Context, check AvailabilityCheck, fallbackCommand string) bool {
	command := check.Command
	if command == "" {
		command = fallbackCommand
	}
	if command == "" {
		return false
	}
	cmd := exec.CommandContext(ctx, command, check.Args...)
	if check.WorkingDirectory != "" {
		cmd.Dir = check.WorkingDirectory
	}
	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return false // failed to even start the probe process
		}
	}
	for _, code := range check.successCodes() {
		if code == exitCode {
			return true
		}
	}
	return false
}

// DisabledTool records a tool removed from the advertised surface because
// its availability probe failed at startup, along with the install
// instructions to surface to the operator (§6).
type DisabledTool struct {
	Name                string
	InstallInstructions string
}

// ProbeAll runs every configured availability probe and removes failing
// tools from the registry so they are never surfaced to clients. It returns
// the removed tools sorted by name. Only tool-level checks are run; a check
// configured on a subcommand is not probed.
func (r *Registry) ProbeAll(ctx context.Context) []DisabledTool {
	var disabled []DisabledTool
	for name, cfg := range r.Tools {
		if cfg.AvailabilityCheck == nil {
			continue
		}
		if ProbeAvailability(ctx, *cfg.AvailabilityCheck, cfg.Command) {
			continue
		}
		delete(r.Tools, name)
		disabled = append(disabled, DisabledTool{Name: name, InstallInstructions: cfg.InstallInstructions})
	}
	sort.Slice(disabled, func(i, j int) bool { return disabled[i].Name < disabled[j].Name })
	return disabled
}
