package logmonitor

import (
	"context"
	"strings"
	"testing"

	"github.com/ahma-project/mcp-shelladapter/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactBearerToken(t *testing.T) {
	out := Redact("Authorization: Bearer abcdef0123456789xyz")
	assert.Contains(t, out, "Bearer [REDACTED]")
	assert.NotContains(t, out, "abcdef0123456789xyz")
}

func TestRedactKeyValueSecret(t *testing.T) {
	out := Redact(`connecting with api_key="sk-aaaaaaaaaaaaaaaa"`)
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "sk-aaaaaaaaaaaaaaaa")
}

func TestRedactOpaqueHexID(t *testing.T) {
	out := Redact("session id deadbeefdeadbeefdeadbeefdeadbeef started")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "deadbeefdeadbeefdeadbeefdeadbeef")
}

func TestClassifySeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, Classify("runtime: panic: index out of range"))
	assert.Equal(t, SeverityError, Classify("Error: connection refused"))
	assert.Equal(t, SeverityWarning, Classify("WARNING: deprecated flag"))
	assert.Equal(t, SeverityNone, Classify("build succeeded"))
}

func TestBoundedBufferEvictsOldestAndReportsTruncation(t *testing.T) {
	b := NewBoundedBuffer(10)
	b.Append("0123456789") // exactly fills budget
	assert.False(t, b.Truncated())
	b.Append("abc")
	assert.True(t, b.Truncated())
	assert.Contains(t, b.TruncationMarker(), "dropped")
	// the most recent content must survive
	assert.Contains(t, strings.Join(b.Lines(), ""), "abc")
}

type capturingSink struct {
	mu     chan struct{}
	events []events.Event
}

func newCapturingSink() *capturingSink { return &capturingSink{mu: make(chan struct{}, 1)} }

func (s *capturingSink) Accept(ev events.Event)   { s.events = append(s.events, ev) }
func (s *capturingSink) CancelRequested() bool    { return false }

func TestScanEmitsOutputAndRateLimitedAlerts(t *testing.T) {
	sink := newCapturingSink()
	cfg := DefaultConfig()
	cfg.AlertsPerSecond = 1000 // effectively unlimited for this assertion
	cfg.AlertBurst = 1000
	m := New("op-1", sink, cfg, nil)

	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, "Error: something broke")
	}
	r := strings.NewReader(strings.Join(lines, "\n") + "\n")
	require.NoError(t, m.Scan(context.Background(), r, false))

	var alerts, outputs int
	for _, ev := range sink.events {
		switch ev.Kind {
		case events.KindLogAlert:
			alerts++
		case events.KindOutput:
			outputs++
		}
	}
	assert.Equal(t, 5, outputs)
	assert.Equal(t, 5, alerts)
}

func TestScanSuppressesAlertsPastRateLimit(t *testing.T) {
	sink := newCapturingSink()
	cfg := DefaultConfig()
	cfg.AlertsPerSecond = 0.0001
	cfg.AlertBurst = 1
	m := New("op-1", sink, cfg, nil)

	lines := strings.Repeat("Error: boom\n", 10)
	require.NoError(t, m.Scan(context.Background(), strings.NewReader(lines), false))

	var alerts int
	for _, ev := range sink.events {
		if ev.Kind == events.KindLogAlert {
			alerts++
		}
	}
	assert.Equal(t, 1, alerts, "burst of 1 should allow exactly one alert through before suppressing the rest")
	assert.Equal(t, 9, m.DroppedAlerts())
}

// TestStderrOnlyStreamIgnoresStdoutErrors checks the MonitorStream knob: a
// monitor watching only stderr must still forward stdout lines as output
// events and retain them in the full capture, but never alert on them.
func TestStderrOnlyStreamIgnoresStdoutErrors(t *testing.T) {
	sink := newCapturingSink()
	cfg := DefaultConfig()
	cfg.Stream = StreamStderr
	m := New("op-1", sink, cfg, nil)

	require.NoError(t, m.Scan(context.Background(), strings.NewReader("Error: on stdout\n"), false))
	require.NoError(t, m.Scan(context.Background(), strings.NewReader("error[E0308]: mismatched types\n"), true))

	var alerts, outputs int
	for _, ev := range sink.events {
		switch ev.Kind {
		case events.KindLogAlert:
			alerts++
			assert.Contains(t, strings.Join(ev.LogAlert.ContextSnapshot, "\n"), "mismatched types")
		case events.KindOutput:
			outputs++
		}
	}
	assert.Equal(t, 2, outputs)
	assert.Equal(t, 1, alerts, "only the stderr line may trigger an alert")
	assert.Contains(t, m.FullOutput(), "on stdout")
}

func TestFullOutputIncludesTruncationMarkerWhenBounded(t *testing.T) {
	sink := newCapturingSink()
	cfg := DefaultConfig()
	cfg.MaxBufferedBytes = 5
	m := New("op-1", sink, cfg, nil)

	require.NoError(t, m.Scan(context.Background(), strings.NewReader("aaaaa\nbbbbb\nccccc\n"), false))
	assert.Contains(t, m.FullOutput(), "truncated")
}
