package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahma-project/mcp-shelladapter/internal/events"
	"github.com/ahma-project/mcp-shelladapter/internal/ops"
	"github.com/ahma-project/mcp-shelladapter/internal/registry"
	"github.com/ahma-project/mcp-shelladapter/internal/shellpool"
)

// echoProcess is an in-memory shellpool.Process that echoes its argv,
// joined by spaces, back as stdout with exit code 0 — enough for the
// adapter tests below, which care about dispatch/sequencing behavior, not
// real command execution.
type echoProcess struct {
	writer *bufio.Writer
	reader *bufio.Reader
	inW    *io.PipeWriter
	outR   *io.PipeReader
}

func newEchoProcess() *echoProcess {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	p := &echoProcess{
		writer: bufio.NewWriter(inW),
		reader: bufio.NewReader(outR),
		inW:    inW,
		outR:   outR,
	}
	go func() {
		r := bufio.NewReader(inR)
		w := bufio.NewWriter(outW)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				return
			}
			var cmd shellpool.Command
			if err := json.Unmarshal(line, &cmd); err != nil {
				return
			}
			resp := shellpool.Response{ID: cmd.ID, ExitCode: 0, Stdout: strings.Join(cmd.Argv, " ")}
			b, _ := json.Marshal(resp)
			if _, err := w.Write(append(b, '\n')); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}()
	return p
}

func (p *echoProcess) Writer() *bufio.Writer { return p.writer }
func (p *echoProcess) Reader() *bufio.Reader { return p.reader }
func (p *echoProcess) Kill() error {
	_ = p.inW.Close()
	_ = p.outR.Close()
	return nil
}
func (p *echoProcess) Wait() error { return nil }

type echoLauncher struct{}

func (echoLauncher) Launch(ctx context.Context, workingDir string) (shellpool.Process, error) {
	return newEchoProcess(), nil
}

func newTestAdapter(t *testing.T, tools map[string]registry.ToolConfig) (*Adapter, *ops.Monitor) {
	t.Helper()
	pool := shellpool.New(echoLauncher{}, shellpool.WithIdleTimeout(time.Hour), shellpool.WithHealthInterval(time.Hour))
	t.Cleanup(pool.Shutdown)
	monitor := ops.New()
	reg := &registry.Registry{Tools: tools}
	a := New(reg, pool, monitor, WithDefaultTimeout(5*time.Second))
	return a, monitor
}

func TestDispatchSyncForceSynchronousTool(t *testing.T) {
	forceSync := true
	a, _ := newTestAdapter(t, map[string]registry.ToolConfig{
		"cargo": {Name: "cargo", Command: "cargo", ForceSynchronous: &forceSync, Subcommand: []registry.SubcommandConfig{
			{Name: "build"},
		}},
	})

	res, err := a.Dispatch(context.Background(), Invocation{
		ToolName:       "cargo",
		SubcommandPath: []string{"build"},
		WorkingDir:     "/tmp",
	}, events.NoopSink{})
	require.NoError(t, err)
	assert.Empty(t, res.OperationID, "sync dispatch must not allocate an operation id")
	assert.Equal(t, "cargo build", res.Output)
}

func TestDispatchAsyncByDefaultRegistersOperation(t *testing.T) {
	a, monitor := newTestAdapter(t, map[string]registry.ToolConfig{
		"cargo": {Name: "cargo", Command: "cargo", Subcommand: []registry.SubcommandConfig{
			{Name: "build"},
		}},
	})

	res, err := a.Dispatch(context.Background(), Invocation{
		ToolName:       "cargo",
		SubcommandPath: []string{"build"},
		WorkingDir:     "/tmp",
		Async:          true,
	}, events.NoopSink{})
	require.NoError(t, err)
	require.NotEmpty(t, res.OperationID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	op, ok := monitor.WaitFor(ctx, res.OperationID)
	require.True(t, ok)
	assert.Equal(t, ops.Completed, op.State)
}

// blockingProcess never answers a command; Kill unblocks its reader with an
// error, the way killing a real harness process would.
type blockingProcess struct {
	writer *bufio.Writer
	reader *bufio.Reader
	outR   *io.PipeReader
	outW   *io.PipeWriter
}

func newBlockingProcess() *blockingProcess {
	outR, outW := io.Pipe()
	return &blockingProcess{
		writer: bufio.NewWriter(io.Discard),
		reader: bufio.NewReader(outR),
		outR:   outR,
		outW:   outW,
	}
}

func (p *blockingProcess) Writer() *bufio.Writer { return p.writer }
func (p *blockingProcess) Reader() *bufio.Reader { return p.reader }
func (p *blockingProcess) Kill() error {
	_ = p.outW.Close()
	_ = p.outR.Close()
	return nil
}
func (p *blockingProcess) Wait() error { return nil }

type blockingLauncher struct{}

func (blockingLauncher) Launch(ctx context.Context, workingDir string) (shellpool.Process, error) {
	return newBlockingProcess(), nil
}

type syncSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *syncSink) Accept(ev events.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *syncSink) CancelRequested() bool { return false }

func (s *syncSink) kinds() []events.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Kind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

// TestCancelKillsRunningOperation checks the §5 cancellation contract: an
// explicit cancel transitions the operation to Cancelled, kills the shell
// command in flight, and surfaces exactly one Cancelled event — never a
// Failed or Completed one.
func TestCancelKillsRunningOperation(t *testing.T) {
	pool := shellpool.New(blockingLauncher{}, shellpool.WithIdleTimeout(time.Hour), shellpool.WithHealthInterval(time.Hour))
	t.Cleanup(pool.Shutdown)
	monitor := ops.New()
	reg := &registry.Registry{Tools: map[string]registry.ToolConfig{
		"sleeper": {Name: "sleeper", Command: "sleeper"},
	}}
	a := New(reg, pool, monitor, WithDefaultTimeout(time.Minute))

	sink := &syncSink{}
	res, err := a.Dispatch(context.Background(), Invocation{
		ToolName:   "sleeper",
		WorkingDir: "/tmp",
		Async:      true,
	}, sink)
	require.NoError(t, err)
	require.NotEmpty(t, res.OperationID)

	require.Eventually(t, func() bool {
		op, ok := monitor.Get(res.OperationID)
		return ok && op.State == ops.InProgress
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, monitor.Cancel(res.OperationID, "user requested"))

	op, _ := monitor.Get(res.OperationID)
	assert.Equal(t, ops.Cancelled, op.State)
	assert.Equal(t, "user requested", op.CancelReason)

	require.Eventually(t, func() bool {
		for _, k := range sink.kinds() {
			if k == events.KindCancelled {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	for _, k := range sink.kinds() {
		assert.NotContains(t, []events.Kind{events.KindCompleted, events.KindFailed, events.KindFinalResult}, k,
			"a cancelled operation must surface Cancelled as its only terminal event")
	}
}

// TestAsyncEventsCarryOperationIDAndToken checks that every event emitted
// for an async dispatch is stamped with the operation id and the caller's
// progress token (Testable Property 8).
func TestAsyncEventsCarryOperationIDAndToken(t *testing.T) {
	a, monitor := newTestAdapter(t, map[string]registry.ToolConfig{
		"cargo": {Name: "cargo", Command: "cargo"},
	})

	sink := &syncSink{}
	res, err := a.Dispatch(context.Background(), Invocation{
		ToolName:      "cargo",
		WorkingDir:    "/tmp",
		Async:         true,
		ProgressToken: "tok-99",
	}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, ok := monitor.WaitFor(ctx, res.OperationID)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		for _, ev := range sink.events {
			if ev.Kind == events.KindFinalResult {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, ev := range sink.events {
		assert.Equal(t, res.OperationID, ev.Op)
		assert.Equal(t, "tok-99", ev.ProgressToken)
	}
}

func TestDispatchUnknownToolIsValidationError(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]registry.ToolConfig{})
	_, err := a.Dispatch(context.Background(), Invocation{ToolName: "missing"}, events.NoopSink{})
	assert.Error(t, err)
}

// TestSequenceExecutesStepsInOrderWithDelay checks Testable Scenario S7: a
// 3-step synchronous sequence with a configured inter-step delay takes at
// least the sum of those delays, aggregates all step descriptions and
// outputs in order, and each step runs regardless of the underlying tool's
// own sync/async default.
func TestSequenceExecutesStepsInOrderWithDelay(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]registry.ToolConfig{
		"noop": {Name: "noop", Command: "noop"},
		"suite": {Name: "suite", Command: "suite", Sequence: []registry.SequenceStep{
			{Tool: "noop", Description: "first step"},
			{Tool: "noop", Description: "second step"},
			{Tool: "noop", Description: "third step"},
		}},
	})
	a.sequenceStepDelay = 50 * time.Millisecond

	start := time.Now()
	res, err := a.Dispatch(context.Background(), Invocation{ToolName: "suite", WorkingDir: "/tmp"}, events.NoopSink{})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "two inter-step delays of 50ms must elapse")
	assert.Contains(t, res.Output, "first step")
	assert.Contains(t, res.Output, "second step")
	assert.Contains(t, res.Output, "third step")

	firstIdx := strings.Index(res.Output, "first step")
	secondIdx := strings.Index(res.Output, "second step")
	thirdIdx := strings.Index(res.Output, "third step")
	assert.True(t, firstIdx < secondIdx && secondIdx < thirdIdx, "steps must be reported in order")
}

func TestSequenceFailsFastOnStepFailure(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]registry.ToolConfig{
		"suite": {Name: "suite", Command: "suite", Sequence: []registry.SequenceStep{
			{Tool: "missing-tool", Subcommand: "x"},
			{Tool: "suite", Subcommand: "never-reached"},
		}},
	})

	_, err := a.Dispatch(context.Background(), Invocation{ToolName: "suite", WorkingDir: "/tmp"}, events.NoopSink{})
	assert.Error(t, err)
}
