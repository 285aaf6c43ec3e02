package shellpool

import (
	"bufio"
	"encoding/json"
	"fmt"
)

// Command is the wire-framed request sent to a shell harness process: one
// JSON object per line carrying a command id, argv vector, working
// directory and timeout (§4.2).
type Command struct {
	ID         string   `json:"id"`
	Argv       []string `json:"argv"`
	WorkingDir string   `json:"working_dir"`
	TimeoutMS  int64    `json:"timeout_ms"`
}

// Response is the wire-framed reply from a shell harness process: one JSON
// object per line carrying the same id, exit code, stdout/stderr captures
// and duration.
type Response struct {
	ID         string `json:"id"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// WriteCommand encodes cmd as a single line of JSON terminated by '\n'.
func WriteCommand(w *bufio.Writer, cmd Command) error {
	b, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal shell command: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// ReadResponse decodes a single line of JSON into a Response.
func ReadResponse(r *bufio.Reader) (Response, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal shell response: %w", err)
	}
	return resp, nil
}

// ReadCommand decodes a single line of JSON into a Command. Used by the
// shell harness process (cmd/shellharness), the receiving side of the wire
// protocol WriteCommand encodes for.
func ReadCommand(r *bufio.Reader) (Command, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Command{}, err
	}
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return Command{}, fmt.Errorf("unmarshal shell command: %w", err)
	}
	return cmd, nil
}

// WriteResponse encodes resp as a single line of JSON terminated by '\n'.
// Used by the shell harness process to reply to a Command.
func WriteResponse(w *bufio.Writer, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal shell response: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
