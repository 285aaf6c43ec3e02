package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ahma-project/mcp-shelladapter/internal/events"
)

// stepEventFilter keeps a composite sequence's event stream shaped like a
// single call: the per-step lifecycle events runOnce emits are dropped, so
// only output lines, log alerts and the sequence's own progress markers
// reach the subscriber. The sequence emits one aggregate terminal event and
// one aggregate FinalResult itself.
type stepEventFilter struct {
	next events.Sink
}

func (f stepEventFilter) Accept(ev events.Event) {
	switch ev.Kind {
	case events.KindStarted, events.KindCompleted, events.KindFailed, events.KindFinalResult:
		return
	}
	f.next.Accept(ev)
}

func (f stepEventFilter) CancelRequested() bool { return f.next.CancelRequested() }

// runSequence executes a composite tool's steps strictly in order, waiting
// sequenceStepDelay between each, and fails fast: the first non-zero exit
// aborts the remaining steps (§4.3 composite-sequence execution). Every
// step runs synchronously regardless of its underlying tool's own dispatch
// default, so the caller observes the sequence atomically.
func (a *Adapter) runSequence(ctx context.Context, inv Invocation, r resolved, sink events.Sink) (Result, error) {
	if sink == nil {
		sink = events.NoopSink{}
	}
	sink = events.WithStamp(sink, inv.ToolName, inv.ProgressToken)
	steps := r.tool.Sequence
	if len(r.chain) > 0 {
		if s := r.chain[len(r.chain)-1].Sequence; len(s) > 0 {
			steps = s
		}
	}
	delay := a.sequenceStepDelay
	if r.tool.StepDelayMS != nil {
		delay = time.Duration(*r.tool.StepDelayMS) * time.Millisecond
	}
	if len(r.chain) > 0 && r.chain[len(r.chain)-1].StepDelayMS != nil {
		delay = time.Duration(*r.chain[len(r.chain)-1].StepDelayMS) * time.Millisecond
	}

	sink.Accept(events.Event{
		Kind: events.KindStarted,
		Started: &events.StartedPayload{
			Command:     r.tool.Command,
			Description: r.tool.Description,
		},
	})

	start := time.Now()
	var lastResult Result
	var report strings.Builder
	for i, step := range steps {
		sink.Accept(events.Event{
			Kind: events.KindProgress,
			Progress: &events.ProgressPayload{
				Message: fmt.Sprintf("step %d/%d: %s %s", i+1, len(steps), step.Tool, step.Subcommand),
			},
		})

		// The outer working directory applies unless the step names its own
		// (§4.3: outer wins for working_directory only if the step does not
		// specify one).
		stepWD := inv.WorkingDir
		if wd, ok := step.Args["working_directory"].(string); ok && wd != "" {
			stepWD = wd
		}
		stepInv := Invocation{
			ToolName:       step.Tool,
			SubcommandPath: splitSubcommandPath(step.Subcommand),
			Args:           step.Args,
			WorkingDir:     stepWD,
			Async:          false,
			ProgressToken:  inv.ProgressToken,
		}
		stepResolved, err := a.resolve(stepInv)
		if err != nil {
			return a.failSequence(inv, sink, start, err)
		}

		timeoutSec := ResolveTimeout(stepResolved.tool, stepResolved.chain, uint64(a.defaultTimeout.Seconds()))
		res, err := a.runOnce(ctx, stepInv, stepResolved, time.Duration(timeoutSec)*time.Second, stepEventFilter{next: sink}, "")
		if err != nil {
			return a.failSequence(inv, sink, start, err)
		}
		if res.ExitCode != 0 {
			return a.failSequence(inv, sink, start, fmt.Errorf("sequence step %q %q exited %d", step.Tool, step.Subcommand, res.ExitCode))
		}
		lastResult = res

		if report.Len() > 0 {
			report.WriteString("\n\n")
		}
		desc := step.Description
		if desc == "" {
			desc = fmt.Sprintf("%s %s", step.Tool, step.Subcommand)
		}
		fmt.Fprintf(&report, "step %d/%d: %s\n%s", i+1, len(steps), desc, res.Output)

		if i < len(steps)-1 && delay > 0 {
			select {
			case <-ctx.Done():
				return a.failSequence(inv, sink, start, ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	duration := time.Since(start)
	sink.Accept(events.Event{
		Kind: events.KindCompleted,
		Completed: &events.CompletedPayload{
			Message:    "sequence finished",
			DurationMS: duration.Milliseconds(),
		},
	})
	sink.Accept(events.Event{
		Kind: events.KindFinalResult,
		FinalResult: &events.FinalResultPayload{
			Command:     r.tool.Command,
			Description: r.tool.Description,
			WorkingDir:  inv.WorkingDir,
			Success:     true,
			FullOutput:  report.String(),
			DurationMS:  duration.Milliseconds(),
		},
	})
	lastResult.Output = report.String()
	lastResult.DurationMS = duration.Milliseconds()
	return lastResult, nil
}

func (a *Adapter) failSequence(inv Invocation, sink events.Sink, start time.Time, err error) (Result, error) {
	sink.Accept(events.Event{
		Kind: events.KindFailed,
		Failed: &events.FailedPayload{
			Error:      err.Error(),
			DurationMS: time.Since(start).Milliseconds(),
		},
	})
	return Result{}, err
}

// splitSubcommandPath turns a SequenceStep's subcommand reference into a
// path slice. The sentinel "default" (and the empty string) address the
// tool's root invocation; anything else names exactly one subcommand level.
func splitSubcommandPath(subcommand string) []string {
	if subcommand == "" || subcommand == "default" {
		return nil
	}
	return []string{subcommand}
}
