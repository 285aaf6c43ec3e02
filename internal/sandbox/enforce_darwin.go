//go:build darwin

package sandbox

import (
	"fmt"
	"os/exec"
	"strings"
)

// SandboxExecEnforcer is the macOS counterpart of Landlock, built on a
// sandbox-exec profile generated per negotiated scope (§4.4). Unlike
// Landlock, sandbox-exec cannot restrict the current process after the fact,
// so Enforce only validates that the sandbox-exec binary is present and
// records the generated profile. Neither the Shell Pool nor the Execution
// Adapter applies that profile: spawned shells run without sandbox-exec
// confinement.
type SandboxExecEnforcer struct {
	NoTempFiles bool
	profile     string
}

func (e *SandboxExecEnforcer) Enforce(scope Scope, allowTempFiles bool) error {
	if scope.Empty() {
		return fmt.Errorf("sandbox-exec: refusing to enforce an empty scope")
	}
	if _, err := exec.LookPath("sandbox-exec"); err != nil {
		return fmt.Errorf("sandbox-exec not found: %w", err)
	}
	e.profile = buildSandboxProfile(scope, allowTempFiles && !e.NoTempFiles)
	return nil
}

// Profile returns the generated sandbox-exec profile text. Nothing in this
// module calls it.
func (e *SandboxExecEnforcer) Profile() string { return e.profile }

// DefaultEnforcer returns the OSEnforcer this build targets: sandbox-exec on
// macOS.
func DefaultEnforcer() OSEnforcer { return &SandboxExecEnforcer{} }

func buildSandboxProfile(scope Scope, allowTempFiles bool) string {
	var b strings.Builder
	b.WriteString("(version 1)\n(deny default)\n")
	b.WriteString("(allow file-read* (subpath \"/usr\") (subpath \"/bin\") (subpath \"/etc\") (subpath \"/lib\"))\n")
	for _, root := range scope.Roots() {
		b.WriteString(fmt.Sprintf("(allow file* (subpath %q))\n", root))
	}
	if allowTempFiles {
		b.WriteString(fmt.Sprintf("(allow file* (subpath %q))\n", tempDir()))
	}
	return b.String()
}
