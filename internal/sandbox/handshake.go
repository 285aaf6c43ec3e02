package sandbox

import (
	"fmt"
	"sync"
	"time"
)

// HandshakeState enumerates the states of the MCP handshake gate (§4.4).
type HandshakeState string

const (
	AwaitingInitialize               HandshakeState = "awaiting_initialize"
	AwaitingSSEStream                HandshakeState = "awaiting_sse_stream"
	AwaitingInitializedNotification  HandshakeState = "awaiting_initialized_notification"
	AwaitingRootsResponse            HandshakeState = "awaiting_roots_response"
	Locked                           HandshakeState = "locked"
	HandshakeFailed                  HandshakeState = "failed"
)

// GateError is returned by Handshake.Gate when a tools/call arrives before
// the sandbox is Locked. Code mirrors the JSON-RPC error codes in §4.4/§7.
type GateError struct {
	Code    int
	Message string
}

func (e *GateError) Error() string { return e.Message }

const (
	// CodeInitializing is returned while the handshake is in progress and
	// within the configured timeout.
	CodeInitializing = -32001
	// CodeHandshakeTimeout is returned once the handshake timeout has
	// elapsed without reaching Locked.
	CodeHandshakeTimeout = -32002
)

// OSEnforcer applies process-global, one-shot, irrevocable OS sandboxing
// once the scope is locked (§4.4 OS enforcement). Implementations are
// selected per build tag: Landlock on Linux, sandbox-exec on macOS, and a
// refusal stub everywhere else unless bypassed.
type OSEnforcer interface {
	Enforce(scope Scope, allowTempFiles bool) error
}

// Handshake drives the roots-negotiation state machine that gates tool
// execution on a locked sandbox scope. NewHandshake returns one in the
// AwaitingInitialize state, modelling a fresh MCP session; the zero value
// has no state set and rejects initialize.
type Handshake struct {
	mu    sync.Mutex
	state HandshakeState
	scope Scope
	err   error

	sseConnected        bool
	initializedReceived bool

	mode           Mode
	enforcer       OSEnforcer
	canon          Canonicalizer
	startedAt      time.Time
	timeout        time.Duration
	allowTempFiles bool

	onLocked func(Scope)
	onFailed func(error)
}

// HandshakeOption configures a Handshake at construction time.
type HandshakeOption func(*Handshake)

// WithMode sets the sandbox Mode (Strict by default).
func WithMode(m Mode) HandshakeOption { return func(h *Handshake) { h.mode = m } }

// WithEnforcer sets the OS enforcer used once roots are negotiated.
func WithEnforcer(e OSEnforcer) HandshakeOption { return func(h *Handshake) { h.enforcer = e } }

// WithCanonicalizer sets the Canonicalizer used to resolve negotiated roots.
func WithCanonicalizer(c Canonicalizer) HandshakeOption {
	return func(h *Handshake) { h.canon = c }
}

// WithTempFiles controls whether OS enforcement grants access to the OS
// temp directory (§4.4: full access under the OS temp directory unless a
// strict "no temp files" mode is set).
func WithTempFiles(allow bool) HandshakeOption {
	return func(h *Handshake) { h.allowTempFiles = allow }
}

// WithTimeout sets the handshake timeout; zero disables the timeout bound,
// but per §9 Open Questions the specification forbids any other implicit
// default, so callers should always set one explicitly in production.
func WithTimeout(d time.Duration) HandshakeOption { return func(h *Handshake) { h.timeout = d } }

// WithOnLocked registers a callback invoked exactly once when the scope
// locks successfully.
func WithOnLocked(f func(Scope)) HandshakeOption { return func(h *Handshake) { h.onLocked = f } }

// WithOnFailed registers a callback invoked exactly once on handshake
// failure.
func WithOnFailed(f func(error)) HandshakeOption { return func(h *Handshake) { h.onFailed = f } }

// NewHandshake constructs a Handshake in AwaitingInitialize state.
func NewHandshake(opts ...HandshakeOption) *Handshake {
	h := &Handshake{
		state:          AwaitingInitialize,
		mode:           ModeStrict,
		canon:          OSCanonicalizer{},
		startedAt:      time.Now(),
		allowTempFiles: true,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// HandleInitialize advances AwaitingInitialize -> AwaitingSseStream.
func (h *Handshake) HandleInitialize() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != AwaitingInitialize {
		return fmt.Errorf("initialize received in state %s", h.state)
	}
	h.state = AwaitingSSEStream
	return nil
}

// HandleSSEOpen advances AwaitingSseStream -> AwaitingInitializedNotification.
func (h *Handshake) HandleSSEOpen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != AwaitingSSEStream {
		return fmt.Errorf("SSE stream opened in state %s", h.state)
	}
	h.sseConnected = true
	h.state = AwaitingInitializedNotification
	return nil
}

// HandleInitialized advances AwaitingInitializedNotification ->
// AwaitingRootsResponse. The caller is responsible for emitting the
// roots/list request over the event stream once this returns nil.
func (h *Handshake) HandleInitialized() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != AwaitingInitializedNotification {
		return fmt.Errorf("notifications/initialized received in state %s", h.state)
	}
	h.initializedReceived = true
	h.state = AwaitingRootsResponse
	return nil
}

// RootURI is one entry of the client's roots/list response.
type RootURI struct {
	URI  string
	Name string
}

// HandleRootsResponse computes the scope from the negotiated roots, applies
// OS enforcement, and locks the handshake. On any failure it transitions to
// Failed and invokes onFailed; on success it transitions to Locked and
// invokes onLocked.
func (h *Handshake) HandleRootsResponse(roots []RootURI) error {
	h.mu.Lock()
	if h.state != AwaitingRootsResponse {
		err := fmt.Errorf("roots response received in state %s", h.state)
		h.mu.Unlock()
		return err
	}
	raw := make([]string, 0, len(roots))
	for _, r := range roots {
		raw = append(raw, r.URI)
	}
	h.mu.Unlock()

	return h.lock(raw)
}

// LockWithScope computes the scope from rawRoots, applies OS enforcement and
// locks the handshake without any client negotiation. It backs the legacy
// single-path scope override (§6 environment knobs): an operator-supplied
// scope replaces the roots/list round trip entirely.
func (h *Handshake) LockWithScope(rawRoots []string) error {
	h.mu.Lock()
	if h.state == Locked || h.state == HandshakeFailed {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("cannot lock a pre-set scope in state %s", state)
	}
	h.mu.Unlock()
	return h.lock(rawRoots)
}

func (h *Handshake) lock(rawRoots []string) error {
	scope, err := NewScope(h.canon, rawRoots)
	if err != nil {
		h.fail(fmt.Errorf("compute sandbox scope: %w", err))
		return err
	}

	if h.mode == ModeStrict && h.enforcer != nil {
		if err := h.enforcer.Enforce(scope, h.allowTempFiles); err != nil {
			h.fail(fmt.Errorf("apply OS sandbox enforcement: %w", err))
			return err
		}
	}

	h.mu.Lock()
	h.scope = scope
	h.state = Locked
	onLocked := h.onLocked
	h.mu.Unlock()

	if onLocked != nil {
		onLocked(scope)
	}
	return nil
}

func (h *Handshake) fail(err error) {
	h.mu.Lock()
	h.state = HandshakeFailed
	h.err = err
	onFailed := h.onFailed
	h.mu.Unlock()
	if onFailed != nil {
		onFailed(err)
	}
}

// State returns the current handshake state.
func (h *Handshake) State() HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Scope returns the locked scope, or the zero Scope if not yet Locked.
func (h *Handshake) Scope() Scope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scope
}

// Gate is the tool-call gate (§4.4): it returns nil once the handshake is
// Locked, and a structured *GateError otherwise — CodeInitializing while
// within the timeout, CodeHandshakeTimeout once elapsed, and a Failed-state
// message otherwise. In any non-Locked state the Adapter must never be
// invoked (Testable Property 7).
func (h *Handshake) Gate() error {
	h.mu.Lock()
	state := h.state
	sse := h.sseConnected
	initd := h.initializedReceived
	elapsed := time.Since(h.startedAt)
	timeout := h.timeout
	failErr := h.err
	h.mu.Unlock()

	if state == Locked {
		return nil
	}
	if state == HandshakeFailed {
		return &GateError{Code: CodeHandshakeTimeout, Message: fmt.Sprintf("sandbox handshake failed: %v", failErr)}
	}
	if timeout > 0 && elapsed > timeout {
		return &GateError{
			Code: CodeHandshakeTimeout,
			Message: fmt.Sprintf(
				"sandbox handshake timed out after %s (SSE connected: %t, initialized received: %t)",
				elapsed.Round(time.Millisecond), sse, initd,
			),
		}
	}
	return &GateError{
		Code:    CodeInitializing,
		Message: fmt.Sprintf("sandbox is still initializing (state=%s)", state),
	}
}
