package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopEnforcer struct{ err error }

func (e noopEnforcer) Enforce(Scope, bool) error { return e.err }

func lockedHandshake(t *testing.T, timeout time.Duration) *Handshake {
	t.Helper()
	var lockedScope Scope
	locked := false
	h := NewHandshake(
		WithCanonicalizer(fakeCanon{}),
		WithEnforcer(noopEnforcer{}),
		WithTimeout(timeout),
		WithOnLocked(func(s Scope) { locked = true; lockedScope = s }),
	)
	require.NoError(t, h.HandleInitialize())
	require.NoError(t, h.HandleSSEOpen())
	require.NoError(t, h.HandleInitialized())
	require.NoError(t, h.HandleRootsResponse([]RootURI{{URI: "/a/project"}}))
	require.True(t, locked)
	_ = lockedScope
	return h
}

func TestHandshakeHappyPathLocksAndGatesOpen(t *testing.T) {
	h := lockedHandshake(t, time.Second)
	assert.Equal(t, Locked, h.State())
	assert.NoError(t, h.Gate())
	assert.True(t, h.Scope().Contains("/a/project"))
}

func TestHandshakeOutOfOrderTransitionErrors(t *testing.T) {
	h := NewHandshake()
	err := h.HandleSSEOpen() // initialize not yet received
	assert.Error(t, err)
}

func TestGateBeforeLockedReturnsInitializing(t *testing.T) {
	h := NewHandshake(WithTimeout(2 * time.Second))
	require.NoError(t, h.HandleInitialize())

	err := h.Gate()
	var gateErr *GateError
	require.ErrorAs(t, err, &gateErr)
	assert.Equal(t, CodeInitializing, gateErr.Code)
}

func TestGateAfterTimeoutReturnsHandshakeTimeoutWithContext(t *testing.T) {
	h := NewHandshake(WithTimeout(50 * time.Millisecond))
	require.NoError(t, h.HandleInitialize())
	time.Sleep(75 * time.Millisecond)

	err := h.Gate()
	var gateErr *GateError
	require.ErrorAs(t, err, &gateErr)
	assert.Equal(t, CodeHandshakeTimeout, gateErr.Code)
	assert.Contains(t, gateErr.Message, "SSE connected: false")
}

func TestHandshakeEnforcerFailureTransitionsToFailed(t *testing.T) {
	h := NewHandshake(
		WithCanonicalizer(fakeCanon{}),
		WithEnforcer(noopEnforcer{err: assertErr}),
		WithTimeout(time.Second),
	)
	require.NoError(t, h.HandleInitialize())
	require.NoError(t, h.HandleSSEOpen())
	require.NoError(t, h.HandleInitialized())
	err := h.HandleRootsResponse([]RootURI{{URI: "/a/project"}})
	assert.Error(t, err)
	assert.Equal(t, HandshakeFailed, h.State())

	gateErr := h.Gate()
	var ge *GateError
	require.ErrorAs(t, gateErr, &ge)
	assert.Equal(t, CodeHandshakeTimeout, ge.Code)
}

func TestLockWithScopeSkipsNegotiation(t *testing.T) {
	h := NewHandshake(
		WithCanonicalizer(fakeCanon{}),
		WithEnforcer(noopEnforcer{}),
	)
	require.NoError(t, h.LockWithScope([]string{"/srv/project"}))
	assert.Equal(t, Locked, h.State())
	assert.NoError(t, h.Gate())
	assert.True(t, h.Scope().Contains("/srv/project/sub"))

	assert.Error(t, h.LockWithScope([]string{"/elsewhere"}), "a locked scope must never be replaced")
}

var assertErr = assertError("enforcement refused")

type assertError string

func (e assertError) Error() string { return string(e) }
