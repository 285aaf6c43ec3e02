package mcp

import (
	"context"
	"fmt"

	"github.com/ahma-project/mcp-shelladapter/internal/adapter"
	"github.com/ahma-project/mcp-shelladapter/internal/events"
	"github.com/ahma-project/mcp-shelladapter/internal/ops"
	"github.com/ahma-project/mcp-shelladapter/internal/registry"
	"github.com/ahma-project/mcp-shelladapter/internal/sandbox"
	"github.com/ahma-project/mcp-shelladapter/internal/telemetry"
	"github.com/google/uuid"
)

// Session is one client connection's worth of protocol state: the
// handshake gate, the resolved tool registry, the Execution Adapter, the
// Operation Monitor and the Callback Channel it streams progress on. A
// transport (stdio loop or HTTP/SSE bridge) owns exactly one Session per
// connection and drives it through the methods below.
type Session struct {
	ID string

	handshake   *sandbox.Handshake
	registry    *registry.Registry
	adapter     *adapter.Adapter
	monitor     *ops.Monitor
	broadcaster events.Broadcaster
	logger      telemetry.Logger

	disabled map[string]bool
}

// Deps bundles the already-constructed subsystems a Session wires together.
// Callers (cmd/mcp-shelladapter) build these once per process and hand a
// fresh Deps (or a shared one, for the subsystems that are safe to share
// across connections) to NewSession per connection.
type Deps struct {
	Handshake   *sandbox.Handshake
	Registry    *registry.Registry
	Adapter     *adapter.Adapter
	Monitor     *ops.Monitor
	Broadcaster events.Broadcaster
	Logger      telemetry.Logger

	// DisabledTools names tools to hide from tools/list and reject from
	// tools/call regardless of their on-disk Enabled flag (§6).
	DisabledTools []string
}

// NewSession constructs a Session bound to d. d.Logger may be nil, in which
// case a no-op logger is used.
func NewSession(d Deps) *Session {
	logger := d.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	disabled := make(map[string]bool, len(d.DisabledTools))
	for _, name := range d.DisabledTools {
		disabled[name] = true
	}
	return &Session{
		ID:          uuid.NewString(),
		handshake:   d.Handshake,
		registry:    d.Registry,
		adapter:     d.Adapter,
		monitor:     d.Monitor,
		broadcaster: d.Broadcaster,
		logger:      logger,
		disabled:    disabled,
	}
}

// Gate reports whether the session is permitted to run tools/call, per the
// handshake gate in §4.4. A non-nil error is always a *sandbox.GateError.
func (s *Session) Gate() error {
	return s.handshake.Gate()
}

// Subscribe opens a progress-event subscription on the session's Callback
// Channel, cancelled when ctx is done.
func (s *Session) Subscribe(ctx context.Context) (events.Subscription, error) {
	if s.broadcaster == nil {
		return nil, fmt.Errorf("session %s has no broadcaster configured", s.ID)
	}
	return s.broadcaster.Subscribe(ctx)
}

func (s *Session) sink() events.Sink {
	if s.broadcaster == nil {
		return events.NoopSink{}
	}
	return events.NewBroadcastSink(s.broadcaster, nil)
}
