//go:build linux

package sandbox

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux Landlock syscall numbers (stable ABI, generic syscall table). Not
// yet wrapped by golang.org/x/sys/unix, so the core issues them directly via
// unix.Syscall, matching the raw-syscall style bassosimone-nop/errclass uses
// for OS-specific error classification.
const (
	sysLandlockCreateRuleset = 444
	sysLandlockAddRule       = 445
	sysLandlockRestrictSelf  = 446

	landlockRuleTypePathBeneath = 1

	landlockAccessFSExecute    = 1 << 0
	landlockAccessFSWriteFile  = 1 << 1
	landlockAccessFSReadFile   = 1 << 2
	landlockAccessFSReadDir    = 1 << 3
	landlockAccessFSRemoveDir  = 1 << 4
	landlockAccessFSRemoveFile = 1 << 5
	landlockAccessFSMakeChar   = 1 << 6
	landlockAccessFSMakeDir    = 1 << 7
	landlockAccessFSMakeReg    = 1 << 8
	landlockAccessFSMakeSock   = 1 << 9
	landlockAccessFSMakeFifo   = 1 << 10
	landlockAccessFSMakeBlock  = 1 << 11
	landlockAccessFSMakeSym    = 1 << 12
)

const landlockAccessFSFull = landlockAccessFSExecute | landlockAccessFSWriteFile |
	landlockAccessFSReadFile | landlockAccessFSReadDir | landlockAccessFSRemoveDir |
	landlockAccessFSRemoveFile | landlockAccessFSMakeChar | landlockAccessFSMakeDir |
	landlockAccessFSMakeReg | landlockAccessFSMakeSock | landlockAccessFSMakeFifo |
	landlockAccessFSMakeBlock | landlockAccessFSMakeSym

const landlockAccessFSReadOnly = landlockAccessFSReadFile | landlockAccessFSReadDir

type landlockRulesetAttr struct {
	handledAccessFS uint64
}

type landlockPathBeneathAttr struct {
	allowedAccess uint64
	parentFD      int32
}

// systemReadOnlyDirs are granted read-only access under Landlock regardless
// of the negotiated scope (§4.4 OS enforcement).
var systemReadOnlyDirs = []string{"/usr", "/bin", "/etc", "/lib", "/lib64", "/proc", "/dev"}

// LandlockEnforcer applies Landlock restrictions using the filesystem access
// rights of Landlock ABI v1; the refer and truncate rights added in later
// ABI versions are not handled. It grants full access under each
// scope root, read-only access under a fixed list of system directories,
// and (unless NoTempFiles is set) full access under the OS temp directory.
type LandlockEnforcer struct {
	NoTempFiles bool
}

// DefaultEnforcer returns the OSEnforcer this build targets: Landlock on
// Linux.
func DefaultEnforcer() OSEnforcer { return LandlockEnforcer{} }

func (e LandlockEnforcer) Enforce(scope Scope, allowTempFiles bool) error {
	if scope.Empty() {
		return fmt.Errorf("landlock: refusing to enforce an empty scope")
	}

	attr := landlockRulesetAttr{handledAccessFS: landlockAccessFSFull}
	rulesetFD, _, errno := unix.Syscall(sysLandlockCreateRuleset, uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr), 0)
	if errno != 0 {
		return fmt.Errorf("landlock_create_ruleset: %w (kernel may lack Landlock support)", errno)
	}
	defer unix.Close(int(rulesetFD))

	fullPaths := append([]string{}, scope.Roots()...)
	if allowTempFiles && !e.NoTempFiles {
		fullPaths = append(fullPaths, tempDir())
	}
	for _, p := range fullPaths {
		if err := addLandlockRule(int(rulesetFD), p, landlockAccessFSFull); err != nil {
			return err
		}
	}
	for _, p := range systemReadOnlyDirs {
		if err := addLandlockRule(int(rulesetFD), p, landlockAccessFSReadOnly); err != nil {
			// System directories are best-effort: a minimal container image
			// may be missing one (e.g. /lib64 on some distros).
			continue
		}
	}

	if _, _, errno := unix.Syscall(unix.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0); errno != 0 {
		return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %w", errno)
	}
	if _, _, errno := unix.Syscall(sysLandlockRestrictSelf, uintptr(rulesetFD), 0, 0); errno != 0 {
		return fmt.Errorf("landlock_restrict_self: %w", errno)
	}
	return nil
}

func addLandlockRule(rulesetFD int, path string, access uint64) error {
	fd, err := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %q for landlock rule: %w", path, err)
	}
	defer unix.Close(fd)

	attr := landlockPathBeneathAttr{allowedAccess: access, parentFD: int32(fd)}
	_, _, errno := unix.Syscall6(
		sysLandlockAddRule,
		uintptr(rulesetFD),
		landlockRuleTypePathBeneath,
		uintptr(unsafe.Pointer(&attr)),
		0, 0, 0,
	)
	if errno != 0 {
		return fmt.Errorf("landlock_add_rule(%q): %w", path, errno)
	}
	return nil
}
