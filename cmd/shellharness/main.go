// Command shellharness is the subprocess the Shell Pool spawns one of per
// working directory (§4.2). It speaks the line-delimited JSON wire protocol
// defined in internal/shellpool/wire.go on stdin/stdout: each line is a
// Command, to which it replies with exactly one line-delimited Response.
//
// The -cli flag switches it into a single-shot mode that runs one command
// given on the command line and exits, useful for exercising the harness
// binary directly without a pool attached.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ahma-project/mcp-shelladapter/internal/shellpool"
)

func main() {
	cliCommand := flag.String("cli", "", "run this command once, print its output, and exit, instead of serving the wire protocol")
	workingDir := flag.String("working-dir", "", "working directory to run in (defaults to the current directory)")
	timeout := flag.Duration("timeout", 30*time.Second, "timeout for -cli single-shot mode")
	flag.Parse()

	dir := *workingDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "shellharness:", err)
			os.Exit(1)
		}
		dir = wd
	}

	if *cliCommand != "" {
		os.Exit(runOnce(dir, *cliCommand, *timeout))
	}
	serve(dir)
}

// runOnce executes command through /bin/sh -c and writes its combined
// stdout and stderr to this process's stdout, returning the exit code to
// propagate.
func runOnce(dir, command string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	os.Stdout.Write(out)
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	fmt.Fprintln(os.Stderr, "shellharness:", err)
	return 1
}

// serve runs the wire-protocol loop: read one Command per line from stdin,
// run it pinned to dir, write one Response per line to stdout. The harness
// is pinned to a single working directory for its entire lifetime (§3 Shell
// Handle); a Command naming a different WorkingDir is rejected.
func serve(dir string) {
	reader := bufio.NewReader(os.Stdin)
	writer := bufio.NewWriter(os.Stdout)

	for {
		cmd, err := shellpool.ReadCommand(reader)
		if err != nil {
			return
		}
		resp := execute(dir, cmd)
		if err := shellpool.WriteResponse(writer, resp); err != nil {
			return
		}
	}
}

func execute(dir string, cmd shellpool.Command) shellpool.Response {
	if cmd.WorkingDir != "" && cmd.WorkingDir != dir {
		return shellpool.Response{ID: cmd.ID, ExitCode: -1, Error: fmt.Sprintf("harness pinned to %q, got %q", dir, cmd.WorkingDir)}
	}
	if len(cmd.Argv) == 0 {
		return shellpool.Response{ID: cmd.ID, ExitCode: -1, Error: "empty argv"}
	}

	timeout := time.Duration(cmd.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	execCmd := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	execCmd.Dir = dir

	var stdout, stderr strings.Builder
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr
	runErr := execCmd.Run()
	duration := time.Since(start)

	resp := shellpool.Response{
		ID:         cmd.ID,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: duration.Milliseconds(),
	}
	switch {
	case runErr == nil:
		resp.ExitCode = 0
	case ctx.Err() == context.DeadlineExceeded:
		resp.ExitCode = -1
		resp.Error = fmt.Sprintf("command timed out after %s", timeout)
	default:
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			resp.ExitCode = exitErr.ExitCode()
		} else {
			resp.ExitCode = -1
			resp.Error = runErr.Error()
		}
	}
	return resp
}
