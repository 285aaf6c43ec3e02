package shellpool

import (
	"bufio"
	"context"
	"time"

	"github.com/google/uuid"
)

// Process is the minimal process handle a Shell wraps: a line-oriented
// stdin/stdout pipe plus lifecycle control. Production code backs this with
// an os/exec.Cmd running the shell harness (cmd/shellharness); tests back it
// with an in-memory fake.
type Process interface {
	Writer() *bufio.Writer
	Reader() *bufio.Reader
	Kill() error
	// Wait blocks until the process exits and returns its exit error, if
	// any. The pool itself never calls it; health checks probe a shell by
	// running a command instead.
	Wait() error
}

// Launcher spawns a new harness Process pinned to workingDir (§3 Shell
// Handle: "working directory is immutable for its lifetime").
type Launcher interface {
	Launch(ctx context.Context, workingDir string) (Process, error)
}

// Shell is one long-lived harness process reused across commands run in the
// same working directory (§3 Shell Handle).
type Shell struct {
	ID         string
	WorkingDir string
	SpawnedAt  time.Time
	LastUsedAt time.Time
	Healthy    bool

	proc Process
}

func newShell(workingDir string, proc Process) *Shell {
	now := time.Now()
	return &Shell{
		ID:         uuid.NewString(),
		WorkingDir: workingDir,
		SpawnedAt:  now,
		LastUsedAt: now,
		Healthy:    true,
		proc:       proc,
	}
}

// Close kills the underlying process. Called when a shell is discarded
// rather than returned to its pool.
func (s *Shell) Close() error {
	if s.proc == nil {
		return nil
	}
	return s.proc.Kill()
}
