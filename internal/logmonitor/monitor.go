// Package logmonitor scans a running command's output line by line,
// redacting sensitive content, classifying severity and emitting rate
// limited log-alert progress events with surrounding context (§4.3).
package logmonitor

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/ahma-project/mcp-shelladapter/internal/events"
	"github.com/ahma-project/mcp-shelladapter/internal/telemetry"
)

// Stream selects which of a command's output streams the severity scanner
// watches for alert triggers (§4.3 MonitorStream). Output events and the
// bounded full-output capture always cover both streams; Stream narrows
// alerting only.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamBoth   Stream = "both"
)

// Config parameterizes a Monitor instance.
type Config struct {
	// AlertThreshold is the minimum Severity that triggers a KindLogAlert
	// event. Defaults to SeverityError.
	AlertThreshold Severity
	// Stream is the output stream watched for alert triggers. Defaults to
	// both.
	Stream Stream
	// ContextLines is how many of the most recently seen lines (including
	// the triggering line) are attached to an alert's context snapshot.
	ContextLines int
	// MaxBufferedBytes bounds the full-output capture retained for the
	// final result payload.
	MaxBufferedBytes int
	// AlertsPerSecond / AlertBurst configure the alert rate limiter.
	AlertsPerSecond float64
	AlertBurst      int
}

// DefaultConfig returns sane defaults grounded in §4.3's description of
// "several lines of context" and bounded output.
func DefaultConfig() Config {
	return Config{
		AlertThreshold:   SeverityError,
		Stream:           StreamBoth,
		ContextLines:     5,
		MaxBufferedBytes: 1 << 20, // 1 MiB
		AlertsPerSecond:  2,
		AlertBurst:       5,
	}
}

func (c Config) watches(isStderr bool) bool {
	switch c.Stream {
	case StreamStdout:
		return !isStderr
	case StreamStderr:
		return isStderr
	default:
		return true
	}
}

// Monitor scans one command's combined stdout/stderr stream.
type Monitor struct {
	cfg     Config
	sink    events.Sink
	op      string
	limiter *AlertLimiter
	full    *BoundedBuffer
	logger  telemetry.Logger

	mu      sync.Mutex
	context []string
}

// New constructs a Monitor that publishes events for operation id op to
// sink.
func New(op string, sink events.Sink, cfg Config, logger telemetry.Logger) *Monitor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Monitor{
		cfg:     cfg,
		sink:    sink,
		op:      op,
		limiter: NewAlertLimiter(cfg.AlertsPerSecond, cfg.AlertBurst),
		full:    NewBoundedBuffer(cfg.MaxBufferedBytes),
		logger:  logger,
	}
}

// Scan reads lines from r (stdout or stderr) until EOF or ctx cancellation,
// redacting, classifying and forwarding them. isStderr tags emitted
// OutputPayload events so callers can distinguish streams.
func (m *Monitor) Scan(ctx context.Context, r io.Reader, isStderr bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		m.handleLine(scanner.Text(), isStderr)
	}
	return scanner.Err()
}

func (m *Monitor) handleLine(raw string, isStderr bool) {
	clean := Redact(raw)
	m.full.Append(clean)

	// Context lines carry a provenance tag so an alert's snapshot shows
	// which stream each interleaved line came from.
	tag := "[stdout] "
	if isStderr {
		tag = "[stderr] "
	}
	m.mu.Lock()
	m.context = append(m.context, tag+clean)
	if len(m.context) > m.cfg.ContextLines {
		m.context = m.context[len(m.context)-m.cfg.ContextLines:]
	}
	snapshot := append([]string(nil), m.context...)
	m.mu.Unlock()

	m.sink.Accept(events.Event{
		Kind: events.KindOutput,
		Op:   m.op,
		Output: &events.OutputPayload{
			Line:     clean,
			IsStderr: isStderr,
		},
	})

	if !m.cfg.watches(isStderr) {
		return
	}
	sev := Classify(clean)
	threshold := m.cfg.AlertThreshold
	if threshold == SeverityNone {
		threshold = SeverityError
	}
	if sev < threshold {
		return
	}
	if !m.limiter.Allow() {
		return
	}
	m.sink.Accept(events.Event{
		Kind: events.KindLogAlert,
		Op:   m.op,
		LogAlert: &events.LogAlertPayload{
			TriggerLevel:    sev.String(),
			ContextSnapshot: snapshot,
		},
	})
}

// FullOutput returns the accumulated, bounded output captured so far,
// including a truncation marker if lines were evicted.
func (m *Monitor) FullOutput() string {
	return m.full.String()
}

// DroppedAlerts reports how many alerts the rate limiter suppressed.
func (m *Monitor) DroppedAlerts() int {
	return m.limiter.Dropped()
}
