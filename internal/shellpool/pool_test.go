package shellpool

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcess is an in-memory Process that echoes back a trivial successful
// Response for every Command it receives, without touching a real OS process.
type fakeProcess struct {
	mu      sync.Mutex
	writer  *bufio.Writer
	reader  *bufio.Reader
	killed  bool
	inPipe  *io.PipeWriter
	outPipe *io.PipeReader
}

func newFakeProcess() *fakeProcess {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	fp := &fakeProcess{
		writer:  bufio.NewWriter(inW),
		reader:  bufio.NewReader(outR),
		inPipe:  inW,
		outPipe: outR,
	}
	go func() {
		r := bufio.NewReader(inR)
		w := bufio.NewWriter(outW)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				return
			}
			var cmd Command
			if err := json.Unmarshal(line, &cmd); err != nil {
				return
			}
			resp := Response{ID: cmd.ID, ExitCode: 0, Stdout: "ok"}
			b, _ := json.Marshal(resp)
			if _, err := w.Write(append(b, '\n')); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}()
	return fp
}

func (p *fakeProcess) Writer() *bufio.Writer { return p.writer }
func (p *fakeProcess) Reader() *bufio.Reader { return p.reader }
func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	_ = p.inPipe.Close()
	_ = p.outPipe.Close()
	return nil
}
func (p *fakeProcess) Wait() error { return nil }

type fakeLauncher struct {
	mu      sync.Mutex
	spawned int
	fail    bool
}

func (l *fakeLauncher) Launch(ctx context.Context, workingDir string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return nil, assertErrShellpool("spawn refused")
	}
	l.spawned++
	return newFakeProcess(), nil
}

type assertErrShellpool string

func (e assertErrShellpool) Error() string { return string(e) }

func TestGetShellSpawnsThenReusesOnReturn(t *testing.T) {
	l := &fakeLauncher{}
	p := New(l, WithIdleTimeout(time.Hour), WithHealthInterval(time.Hour))
	defer p.Shutdown()

	sh1, err := p.GetShell(context.Background(), "/a/project")
	require.NoError(t, err)
	id1 := sh1.ID
	p.ReturnShell(sh1)

	sh2, err := p.GetShell(context.Background(), "/a/project")
	require.NoError(t, err)
	assert.Equal(t, id1, sh2.ID, "expected the idle shell to be reused rather than a new one spawned")

	l.mu.Lock()
	assert.Equal(t, 1, l.spawned)
	l.mu.Unlock()
}

// TestShellExclusivity verifies Testable Property 4: no shell is ever handed
// to two concurrent callers at once. Many goroutines race GetShell/ReturnShell
// against a single working directory with capacity for just one shell; an
// atomic "in use" flag on the shell would be violated by concurrent access.
func TestShellExclusivity(t *testing.T) {
	l := &fakeLauncher{}
	p := New(l, WithPerDirectoryCapacity(1), WithGlobalCapacity(1),
		WithIdleTimeout(time.Hour), WithHealthInterval(time.Hour))
	defer p.Shutdown()

	inUse := make(map[string]bool)
	var muInUse sync.Mutex
	var violations int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sh, err := p.GetShell(context.Background(), "/a/project")
			if err != nil {
				return // pool full; acceptable under contention
			}
			muInUse.Lock()
			if inUse[sh.ID] {
				violations++
			}
			inUse[sh.ID] = true
			muInUse.Unlock()

			time.Sleep(time.Millisecond)

			muInUse.Lock()
			inUse[sh.ID] = false
			muInUse.Unlock()
			p.ReturnShell(sh)
		}()
	}
	wg.Wait()
	assert.Zero(t, violations, "a shell was concurrently held by two callers")
}

// TestCapacityAccountingUnderConcurrency verifies Testable Property 5:
// per-directory and global capacity accounting stays consistent (never
// exceeded) under concurrent spawn/return/discard.
func TestCapacityAccountingUnderConcurrency(t *testing.T) {
	l := &fakeLauncher{}
	const perDir = 3
	p := New(l, WithPerDirectoryCapacity(perDir), WithGlobalCapacity(perDir),
		WithIdleTimeout(time.Hour), WithHealthInterval(time.Hour))
	defer p.Shutdown()

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sh, err := p.GetShell(context.Background(), "/a/project")
			if err != nil {
				return
			}
			stats := p.Stats()
			mu.Lock()
			for _, s := range stats {
				if s.InFlight > maxObserved {
					maxObserved = s.InFlight
				}
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			p.ReturnShell(sh)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxObserved, perDir)

	for _, s := range p.Stats() {
		assert.LessOrEqual(t, s.Idle+s.InFlight, perDir)
	}
}

func TestPoolFullErrorWhenCapacityExhausted(t *testing.T) {
	l := &fakeLauncher{}
	p := New(l, WithPerDirectoryCapacity(1), WithGlobalCapacity(1),
		WithIdleTimeout(time.Hour), WithHealthInterval(time.Hour))
	defer p.Shutdown()

	sh, err := p.GetShell(context.Background(), "/a/project")
	require.NoError(t, err)

	_, err = p.GetShell(context.Background(), "/a/project")
	require.Error(t, err)
	var poolErr *Error
	require.ErrorAs(t, err, &poolErr)
	assert.Equal(t, CategoryPoolFull, poolErr.Category())
	assert.True(t, poolErr.Recoverable())

	p.ReturnShell(sh)
}

func TestUnhealthyShellIsDiscardedOnReturn(t *testing.T) {
	l := &fakeLauncher{}
	p := New(l, WithPerDirectoryCapacity(2), WithGlobalCapacity(2),
		WithIdleTimeout(time.Hour), WithHealthInterval(time.Hour))
	defer p.Shutdown()

	sh, err := p.GetShell(context.Background(), "/a/project")
	require.NoError(t, err)
	sh.Healthy = false
	p.ReturnShell(sh)

	for _, s := range p.Stats() {
		assert.Zero(t, s.Idle)
	}
}
