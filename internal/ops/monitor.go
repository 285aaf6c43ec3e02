package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ahma-project/mcp-shelladapter/internal/telemetry"
)

// ErrAlreadyExists is returned by Add when an Operation with the same ID is
// already tracked.
var ErrAlreadyExists = fmt.Errorf("operation already exists")

// Monitor is the sole owner of Operation lifecycle state: a state table,
// a bounded completion ring, and a waiter registry, all guarded by a single
// lock per §4.1 ("a single lock over the composite state ... is acceptable;
// partitioning is an optimization, not a correctness requirement").
type Monitor struct {
	mu sync.Mutex

	active   map[string]*Operation
	ring     []*Operation
	ringCap  int
	ringHead int
	ringLen  int
	ringByID map[string]*Operation

	waiters map[string][]chan struct{}
	// prefixWaiters maps a waiter channel to the set of operation IDs, taken
	// as a snapshot at wait_for_prefix call time, it is still waiting on.
	prefixWaiters map[chan struct{}]map[string]struct{}

	defaultTimeout time.Duration
	now            func() time.Time
	afterFunc      func(d time.Duration, f func()) stopper

	logger telemetry.Logger
	tracer telemetry.Tracer
}

type stopper interface{ Stop() bool }

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithDefaultTimeout sets the per-operation watchdog timeout. Zero disables
// the watchdog (§4.1 Timeout watchdog).
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.defaultTimeout = d }
}

// WithCompletionHistory sets the bounded completion ring capacity. Defaults
// to 256.
func WithCompletionHistory(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.ringCap = n
		}
	}
}

// WithLogger configures the monitor's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTracer configures the monitor's tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(m *Monitor) {
		if t != nil {
			m.tracer = t
		}
	}
}

// New constructs an Operation Monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		active:        make(map[string]*Operation),
		ringCap:       256,
		ringByID:      make(map[string]*Operation),
		waiters:       make(map[string][]chan struct{}),
		prefixWaiters: make(map[chan struct{}]map[string]struct{}),
		now:           time.Now,
		logger:        telemetry.NewNoopLogger(),
		tracer:        telemetry.NewNoopTracer(),
	}
	for _, o := range opts {
		o(m)
	}
	m.afterFunc = func(d time.Duration, f func()) stopper {
		return realTimer{t: time.AfterFunc(d, f)}
	}
	return m
}

// Add inserts operation in the Pending state. It fails if the identifier
// already exists in either the active table or the completion ring.
func (m *Monitor) Add(op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[op.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := m.ringByID[op.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *op
	cp.State = Pending
	m.active[op.ID] = &cp

	if m.defaultTimeout > 0 {
		id := op.ID
		m.afterFunc(m.defaultTimeout, func() {
			m.fireWatchdog(id)
		})
	}
	return nil
}

func (m *Monitor) fireWatchdog(id string) {
	m.UpdateStatus(id, TimedOut, nil)
}

// UpdateStatus atomically transitions operation id to newState. If newState
// is terminal, the operation moves from the active table to the bounded
// completion ring (oldest evicted when full) and all waiters are signaled.
// Updates on a non-existent or already-terminal operation are no-ops,
// matching the idempotency contract in §4.1.
func (m *Monitor) UpdateStatus(id string, newState State, result json.RawMessage) {
	m.mu.Lock()
	op, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if op.State.Terminal() {
		m.mu.Unlock()
		return
	}
	op.State = newState
	if result != nil {
		op.Result = result
	}
	if newState.Terminal() {
		now := m.now()
		op.EndedAt = &now
		delete(m.active, id)
		m.pushRing(op)
	}
	m.mu.Unlock()

	if newState.Terminal() {
		m.notifyWaiters(id)
	}
}

// Cancel transitions operation id to Cancelled if it is not already
// terminal, preserving reason in the terminal record. It returns whether a
// transition actually occurred.
func (m *Monitor) Cancel(id, reason string) bool {
	m.mu.Lock()
	op, ok := m.active[id]
	if !ok || op.State.Terminal() {
		m.mu.Unlock()
		return false
	}
	op.State = Cancelled
	op.CancelReason = reason
	now := m.now()
	op.EndedAt = &now
	delete(m.active, id)
	m.pushRing(op)
	m.mu.Unlock()

	m.notifyWaiters(id)
	return true
}

// pushRing appends op to the completion ring, evicting the oldest entry
// first when full. Callers must hold m.mu.
func (m *Monitor) pushRing(op *Operation) {
	if m.ring == nil {
		m.ring = make([]*Operation, m.ringCap)
	}
	if m.ringLen == m.ringCap {
		evicted := m.ring[m.ringHead]
		if evicted != nil {
			delete(m.ringByID, evicted.ID)
		}
	} else {
		m.ringLen++
	}
	m.ring[m.ringHead] = op
	m.ringByID[op.ID] = op
	m.ringHead = (m.ringHead + 1) % m.ringCap
}

// Get returns a snapshot of operation id from either the active table or
// the completion ring, or ok=false if absent from both.
func (m *Monitor) Get(id string) (Operation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.active[id]; ok {
		return op.Snapshot(), true
	}
	if op, ok := m.ringByID[id]; ok {
		return op.Snapshot(), true
	}
	return Operation{}, false
}

// Active returns a snapshot of every currently active operation.
func (m *Monitor) Active() []Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Operation, 0, len(m.active))
	for _, op := range m.active {
		out = append(out, op.Snapshot())
	}
	return out
}

// Completed returns a snapshot of the completion ring, oldest first.
func (m *Monitor) Completed() []Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Operation, 0, m.ringLen)
	if m.ringLen == 0 {
		return out
	}
	start := m.ringHead
	if m.ringLen < m.ringCap {
		start = 0
	}
	for i := 0; i < m.ringLen; i++ {
		idx := (start + i) % m.ringCap
		if op := m.ring[idx]; op != nil {
			out = append(out, op.Snapshot())
		}
	}
	return out
}

// WaitFor suspends until operation id reaches a terminal state, then
// returns its terminal snapshot. If the operation is already terminal or
// absent from the active table, it returns immediately by consulting the
// completion ring.
func (m *Monitor) WaitFor(ctx context.Context, id string) (Operation, bool) {
	m.mu.Lock()
	if op, ok := m.ringByID[id]; ok {
		m.mu.Unlock()
		return op.Snapshot(), true
	}
	if _, ok := m.active[id]; !ok {
		m.mu.Unlock()
		return Operation{}, false
	}
	ch := make(chan struct{})
	m.waiters[id] = append(m.waiters[id], ch)
	m.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return Operation{}, false
	}
	return m.Get(id)
}

// WaitForPrefix suspends until every currently-active operation whose tool
// name starts with any of prefixes reaches a terminal state. The set of
// operation IDs to wait on is taken as a snapshot at call time: operations
// dispatched afterwards are not waited on (§4.1).
func (m *Monitor) WaitForPrefix(ctx context.Context, prefixes []string) {
	m.mu.Lock()
	pending := make(map[string]struct{})
	for id, op := range m.active {
		if matchesAnyPrefix(op.Tool, prefixes) {
			pending[id] = struct{}{}
		}
	}
	if len(pending) == 0 {
		m.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	m.prefixWaiters[ch] = pending
	m.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.prefixWaiters, ch)
		m.mu.Unlock()
	}
}

func matchesAnyPrefix(tool string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(tool, p) {
			return true
		}
	}
	return false
}

// notifyWaiters signals every waiter blocked on id and updates any
// outstanding prefix waiters, closing their channel once their pending set
// is drained.
func (m *Monitor) notifyWaiters(id string) {
	m.mu.Lock()
	chans := m.waiters[id]
	delete(m.waiters, id)

	var toClose []chan struct{}
	for ch, pending := range m.prefixWaiters {
		if _, ok := pending[id]; ok {
			delete(pending, id)
			if len(pending) == 0 {
				toClose = append(toClose, ch)
				delete(m.prefixWaiters, ch)
			}
		}
	}
	m.mu.Unlock()

	for _, ch := range chans {
		close(ch)
	}
	for _, ch := range toClose {
		close(ch)
	}
}

// ShutdownSummary reports the count and identifiers of every active
// operation, used by the shutdown path to issue distinguishing cancellations.
func (m *Monitor) ShutdownSummary() (count int, ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids = make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return len(ids), ids
}

// CancelAll cancels every currently active operation with reason, used on
// shutdown after the grace period elapses (§5 Cancellation).
func (m *Monitor) CancelAll(reason string) {
	_, ids := m.ShutdownSummary()
	for _, id := range ids {
		m.Cancel(id, reason)
	}
}
