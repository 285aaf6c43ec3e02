package adapter

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/ahma-project/mcp-shelladapter/internal/events"
	"github.com/ahma-project/mcp-shelladapter/internal/logmonitor"
	"github.com/ahma-project/mcp-shelladapter/internal/ops"
	"github.com/ahma-project/mcp-shelladapter/internal/registry"
	"github.com/ahma-project/mcp-shelladapter/internal/sandbox"
	"github.com/ahma-project/mcp-shelladapter/internal/shellpool"
	"github.com/ahma-project/mcp-shelladapter/internal/telemetry"
	"github.com/ahma-project/mcp-shelladapter/internal/toolerrors"
	"github.com/google/uuid"
)

// Invocation is one resolved request to run a tool (or one of its
// subcommands) with a caller-supplied argument map.
type Invocation struct {
	ToolName       string
	SubcommandPath []string
	Args           map[string]any
	WorkingDir     string
	Async          bool
	ProgressToken  string
}

// Result is the outcome of a synchronous invocation, or the immediately
// available metadata for a dispatched asynchronous one.
type Result struct {
	OperationID string
	ExitCode    int
	Output      string
	DurationMS  int64
}

// Adapter is the Execution Adapter (§4): it resolves a Tool Configuration
// and argument map into a concrete command line, runs it against the Shell
// Pool, and publishes progress events for the duration of the call.
type Adapter struct {
	registry *registry.Registry
	pool     *shellpool.Pool
	monitor  *ops.Monitor
	scope    *sandbox.Scope
	logger   telemetry.Logger
	tracer   telemetry.Tracer

	defaultTimeout    time.Duration
	sequenceStepDelay time.Duration
	logCfg            logmonitor.Config
}

// New constructs an Adapter over the given registry, shell pool and
// operation monitor.
func New(reg *registry.Registry, pool *shellpool.Pool, monitor *ops.Monitor, opts ...Option) *Adapter {
	a := &Adapter{
		registry:          reg,
		pool:              pool,
		monitor:           monitor,
		logger:            telemetry.NewNoopLogger(),
		tracer:            telemetry.NewNoopTracer(),
		defaultTimeout:    30 * time.Second,
		sequenceStepDelay: 0,
		logCfg:            logmonitor.DefaultConfig(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

type Option func(*Adapter)

func WithLogger(l telemetry.Logger) Option         { return func(a *Adapter) { a.logger = l } }
func WithTracer(t telemetry.Tracer) Option         { return func(a *Adapter) { a.tracer = t } }
func WithDefaultTimeout(d time.Duration) Option    { return func(a *Adapter) { a.defaultTimeout = d } }
func WithSequenceStepDelay(d time.Duration) Option { return func(a *Adapter) { a.sequenceStepDelay = d } }

// WithLogMonitorConfig sets the log-monitoring parameters (alert severity
// threshold, watched stream, context window, output bounds) applied to
// every streamed invocation.
func WithLogMonitorConfig(cfg logmonitor.Config) Option { return func(a *Adapter) { a.logCfg = cfg } }

// resolved bundles a tool's configuration with the subcommand chain an
// invocation named.
type resolved struct {
	tool  registry.ToolConfig
	chain []registry.SubcommandConfig
}

func (a *Adapter) resolve(inv Invocation) (resolved, error) {
	tool, ok := a.registry.Tools[inv.ToolName]
	if !ok {
		return resolved{}, toolerrors.Errorf("unknown tool %q", inv.ToolName).
			WithContext(inv.ToolName, inv.SubcommandPath, inv.WorkingDir)
	}
	chain, ok := registry.FindSubcommand(tool.Subcommand, inv.SubcommandPath)
	if !ok {
		return resolved{}, toolerrors.Errorf("unknown subcommand path %v for tool %q", inv.SubcommandPath, inv.ToolName).
			WithContext(inv.ToolName, inv.SubcommandPath, inv.WorkingDir)
	}
	return resolved{tool: tool, chain: chain}, nil
}

// Dispatch resolves inv and either runs it to completion synchronously or
// registers an Operation and starts it in the background, per the
// sync/async decision in dispatch.go (§4.3, §6).
func (a *Adapter) Dispatch(ctx context.Context, inv Invocation, sink events.Sink) (Result, error) {
	r, err := a.resolve(inv)
	if err != nil {
		return Result{}, err
	}

	if len(r.tool.Sequence) > 0 || (len(r.chain) > 0 && len(r.chain[len(r.chain)-1].Sequence) > 0) {
		return a.runSequence(ctx, inv, r, sink)
	}

	sync := ResolveSynchronous(r.tool, r.chain, inv.Async)
	timeoutSec := ResolveTimeout(r.tool, r.chain, uint64(a.defaultTimeout.Seconds()))
	timeout := time.Duration(timeoutSec) * time.Second

	if sync {
		return a.runOnce(ctx, inv, r, timeout, sink, "")
	}
	return a.dispatchAsync(ctx, inv, r, timeout, sink)
}

// runOnce runs one resolved invocation to completion against the Shell
// Pool. opID names the owning Operation on every emitted event; when empty
// (synchronous calls have no Operation) the tool name is used instead.
func (a *Adapter) runOnce(ctx context.Context, inv Invocation, r resolved, timeout time.Duration, sink events.Sink, opID string) (Result, error) {
	if sink == nil {
		sink = events.NoopSink{}
	}
	evOp := opID
	if evOp == "" {
		evOp = inv.ToolName
	}
	sink = events.WithStamp(sink, evOp, inv.ProgressToken)

	if err := a.checkScope(inv.WorkingDir); err != nil {
		return Result{}, toolerrors.FromError(err).WithContext(inv.ToolName, inv.SubcommandPath, inv.WorkingDir)
	}
	if err := a.validatePathArgs(r, inv.Args, inv.WorkingDir); err != nil {
		return Result{}, toolerrors.FromError(err).WithContext(inv.ToolName, inv.SubcommandPath, inv.WorkingDir)
	}

	assembled, spills, err := a.assemble(r, inv.Args)
	defer cleanupSpills(spills)
	if err != nil {
		return Result{}, err
	}

	ctx, span := a.tracer.Start(ctx, "adapter.run_once")
	defer span.End()

	sink.Accept(events.Event{
		Kind: events.KindStarted,
		Started: &events.StartedPayload{
			Command:     r.tool.Command,
			Description: r.tool.Description,
		},
	})

	sh, err := a.pool.GetShell(ctx, inv.WorkingDir)
	if err != nil {
		toolErr := toolerrors.FromError(err).WithContext(inv.ToolName, inv.SubcommandPath, inv.WorkingDir)
		sink.Accept(events.Event{Kind: events.KindFailed, Failed: &events.FailedPayload{Error: toolErr.Error()}})
		return Result{}, toolErr
	}

	start := time.Now()
	resp, runErr := a.runWithRetry(ctx, sh, inv.WorkingDir, assembled.Argv, timeout)
	duration := time.Since(start)

	if runErr != nil {
		toolErr := toolerrors.FromError(runErr).WithContext(inv.ToolName, inv.SubcommandPath, inv.WorkingDir)
		sink.Accept(events.Event{
			Kind:   events.KindFailed,
			Failed: &events.FailedPayload{Error: toolErr.Error(), DurationMS: duration.Milliseconds()},
		})
		return Result{}, toolErr
	}

	mon := logmonitor.New(evOp, sink, a.logCfg, a.logger)
	if resp.Stdout != "" {
		_ = mon.Scan(ctx, strings.NewReader(resp.Stdout), false)
	}
	if resp.Stderr != "" {
		_ = mon.Scan(ctx, strings.NewReader(resp.Stderr), true)
	}

	success := resp.ExitCode == 0
	if success {
		sink.Accept(events.Event{
			Kind:      events.KindCompleted,
			Completed: &events.CompletedPayload{Message: "command finished", DurationMS: duration.Milliseconds()},
		})
	} else {
		sink.Accept(events.Event{
			Kind:   events.KindFailed,
			Failed: &events.FailedPayload{Error: "command exited with a non-zero status", DurationMS: duration.Milliseconds()},
		})
	}
	sink.Accept(events.Event{
		Kind: events.KindFinalResult,
		FinalResult: &events.FinalResultPayload{
			Command:     r.tool.Command,
			Description: r.tool.Description,
			WorkingDir:  inv.WorkingDir,
			Success:     success,
			FullOutput:  mon.FullOutput(),
			DurationMS:  duration.Milliseconds(),
		},
	})

	return Result{ExitCode: resp.ExitCode, Output: mon.FullOutput(), DurationMS: duration.Milliseconds()}, nil
}

// cancelGuardSink suppresses terminal events once its token has been
// cancelled, so the execution task's natural completion or failure cannot
// race the Cancelled event owed to the subscriber.
type cancelGuardSink struct {
	next  events.Sink
	token *events.CancelToken
}

func (s *cancelGuardSink) Accept(ev events.Event) {
	if s.token.Requested() {
		switch ev.Kind {
		case events.KindCompleted, events.KindFailed, events.KindCancelled, events.KindFinalResult:
			return
		}
	}
	s.next.Accept(ev)
}

func (s *cancelGuardSink) CancelRequested() bool { return s.token.Requested() }

func (a *Adapter) dispatchAsync(ctx context.Context, inv Invocation, r resolved, timeout time.Duration, sink events.Sink) (Result, error) {
	if err := a.checkScope(inv.WorkingDir); err != nil {
		return Result{}, toolerrors.FromError(err).WithContext(inv.ToolName, inv.SubcommandPath, inv.WorkingDir)
	}
	if sink == nil {
		sink = events.NoopSink{}
	}
	opID := "op_" + uuid.NewString()
	op := &ops.Operation{
		ID:         opID,
		Tool:       inv.ToolName,
		Command:    r.tool.Command,
		WorkingDir: inv.WorkingDir,
		State:      ops.Pending,
		StartedAt:  time.Now(),
	}
	if err := a.monitor.Add(op); err != nil {
		return Result{}, err
	}

	go func() {
		bg, cancelRun := context.WithCancel(context.Background())
		defer cancelRun()

		// An explicit cancel request transitions the Operation to Cancelled
		// in the monitor; observing that here tears down the run context so
		// the in-flight shell command is killed (§5 Cancellation).
		token := events.NewCancelToken()
		go func() {
			if term, ok := a.monitor.WaitFor(bg, opID); ok && term.State == ops.Cancelled {
				token.Cancel(term.CancelReason)
				cancelRun()
			}
		}()

		a.monitor.UpdateStatus(opID, ops.InProgress, nil)
		start := time.Now()
		guarded := &cancelGuardSink{next: sink, token: token}
		res, err := a.runOnce(bg, inv, r, timeout, guarded, opID)

		if token.Requested() {
			events.WithStamp(sink, opID, inv.ProgressToken).Accept(events.Event{
				Kind: events.KindCancelled,
				Cancelled: &events.CancelledPayload{
					Message:    token.Reason(),
					DurationMS: time.Since(start).Milliseconds(),
				},
			})
			return
		}
		if err != nil {
			payload, _ := json.Marshal(map[string]string{"error": err.Error()})
			a.monitor.UpdateStatus(opID, ops.Failed, payload)
			return
		}
		payload, _ := json.Marshal(res)
		a.monitor.UpdateStatus(opID, ops.Completed, payload)
	}()

	return Result{OperationID: opID}, nil
}

// recoverableError is implemented by shellpool.Error; kept as a local
// interface so this package does not need to import shellpool's concrete
// error type just to check the flag.
type recoverableError interface {
	Recoverable() bool
}

func isRecoverable(err error) bool {
	rc, ok := err.(recoverableError)
	return ok && rc.Recoverable()
}

// runWithRetry runs argv against sh and, on a recoverable shellpool error
// (§7: "recoverable variants trigger one retry with a fresh shell"),
// discards sh and retries once against a newly acquired shell before
// surfacing the error. sh is always either returned to the pool or
// discarded by the time this returns.
func (a *Adapter) runWithRetry(ctx context.Context, sh *shellpool.Shell, workingDir string, argv []string, timeout time.Duration) (shellpool.Response, error) {
	resp, err := a.pool.RunCommand(ctx, sh, argv, workingDir, timeout)
	if err == nil {
		a.pool.ReturnShell(sh)
		return resp, nil
	}
	a.pool.DiscardShell(sh)
	if !isRecoverable(err) || ctx.Err() != nil {
		return shellpool.Response{}, err
	}

	fresh, getErr := a.pool.GetShell(ctx, workingDir)
	if getErr != nil {
		return shellpool.Response{}, err
	}
	resp, retryErr := a.pool.RunCommand(ctx, fresh, argv, workingDir, timeout)
	if retryErr != nil {
		a.pool.DiscardShell(fresh)
		return shellpool.Response{}, retryErr
	}
	a.pool.ReturnShell(fresh)
	return resp, nil
}

// RunShell runs command directly in a pooled shell for the sandboxed_shell
// built-in tool (§6), bypassing the declarative tool registry entirely. It
// is still subject to scope enforcement and the same recoverable-error
// retry as a registry-resolved invocation.
func (a *Adapter) RunShell(ctx context.Context, command, workingDir string, timeout time.Duration) (Result, error) {
	if err := a.checkScope(workingDir); err != nil {
		return Result{}, toolerrors.FromError(err).WithContext("sandboxed_shell", nil, workingDir)
	}
	sh, err := a.pool.GetShell(ctx, workingDir)
	if err != nil {
		return Result{}, toolerrors.FromError(err).WithContext("sandboxed_shell", nil, workingDir)
	}
	start := time.Now()
	resp, runErr := a.runWithRetry(ctx, sh, workingDir, []string{"/bin/sh", "-c", command}, timeout)
	duration := time.Since(start)
	if runErr != nil {
		return Result{}, toolerrors.FromError(runErr).WithContext("sandboxed_shell", nil, workingDir)
	}
	return Result{ExitCode: resp.ExitCode, Output: resp.Stdout + resp.Stderr, DurationMS: duration.Milliseconds()}, nil
}

func (a *Adapter) checkScope(workingDir string) error {
	if a.scope == nil || workingDir == "" {
		return nil
	}
	return a.scope.Validate(workingDir)
}

// validatePathArgs checks every path-typed option and positional value
// against the sandbox scope before it can reach a command line (§4.3:
// "path-typed values are validated against the sandbox scope before
// emission"). Values are normalized lexically since they may name files
// that do not exist yet.
func (a *Adapter) validatePathArgs(r resolved, args map[string]any, workingDir string) error {
	if a.scope == nil || len(r.chain) == 0 {
		return nil
	}
	innermost := r.chain[len(r.chain)-1]
	opts := make([]registry.CommandOption, 0, len(innermost.Options)+len(innermost.PositionalArgs))
	opts = append(opts, innermost.Options...)
	opts = append(opts, innermost.PositionalArgs...)
	for _, opt := range opts {
		if opt.Type != "path" {
			continue
		}
		v, ok := args[opt.Name].(string)
		if !ok || v == "" {
			continue
		}
		normalized, err := sandbox.LexicalNormalizer{}.Canonicalize(v, workingDir)
		if err != nil {
			return err
		}
		if err := a.scope.Validate(normalized); err != nil {
			return err
		}
	}
	return nil
}

// SetScope wires the negotiated sandbox scope into the adapter so every
// dispatch is gated against it (§5 Sandbox Enforcement).
func (a *Adapter) SetScope(scope *sandbox.Scope) { a.scope = scope }

func (a *Adapter) assemble(r resolved, args map[string]any) (Assembled, []FileSpill, error) {
	var spills []FileSpill
	writeSpill := func(value string) (string, error) {
		f, err := os.CreateTemp("", "mcp-shelladapter-arg-*")
		if err != nil {
			return "", err
		}
		defer f.Close()
		if _, err := f.WriteString(value); err != nil {
			return "", err
		}
		spills = append(spills, FileSpill{Path: f.Name()})
		return f.Name(), nil
	}
	assembled, err := AssembleArgs(r.tool.Command, r.chain, args, writeSpill)
	return assembled, spills, err
}

func cleanupSpills(spills []FileSpill) {
	for _, s := range spills {
		_ = os.Remove(s.Path)
	}
}
