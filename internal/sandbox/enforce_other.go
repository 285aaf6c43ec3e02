//go:build !linux && !darwin

package sandbox

import "fmt"

// UnsupportedEnforcer refuses to start on any OS without a concrete
// enforcement backend, unless the caller has selected ModeTestBypass
// (§4.4: "On unsupported OS ... refuse to start unless --no-sandbox is
// set").
type UnsupportedEnforcer struct{}

func (UnsupportedEnforcer) Enforce(scope Scope, allowTempFiles bool) error {
	return fmt.Errorf("no OS-level sandbox enforcement backend is available on this platform; pass --no-sandbox to proceed without enforcement")
}

// DefaultEnforcer returns the OSEnforcer this build targets: a refusal stub
// on every platform without a concrete Landlock or sandbox-exec backend.
func DefaultEnforcer() OSEnforcer { return UnsupportedEnforcer{} }
