// Package shellpool implements the Shell Pool (§4.2): per-working-directory
// reusable long-lived shell processes with health checks, idle eviction and
// capacity limits.
package shellpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ahma-project/mcp-shelladapter/internal/telemetry"
	"github.com/sony/gobreaker"
)

// CanonicalizeFunc resolves a working directory path to its canonical form.
// The pool is keyed on the canonical path so distinct spellings of the same
// directory share one sub-pool.
type CanonicalizeFunc func(path string) (string, error)

type subPool struct {
	dir          string
	idle         []*Shell
	inFlight     int
	lastActivity time.Time
	breaker      *gobreaker.CircuitBreaker
}

// Pool is the Shell Pool: a collection of per-directory sub-pools subject to
// per-directory and global capacity limits (§3 Shell Pool invariants).
type Pool struct {
	mu   sync.Mutex
	dirs map[string]*subPool

	perDirCap   int
	globalCap   int
	globalCount int // sum of idle+inFlight across all sub-pools

	idleTimeout    time.Duration
	healthInterval time.Duration

	launcher     Launcher
	canonicalize CanonicalizeFunc

	logger telemetry.Logger
	tracer telemetry.Tracer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Pool at construction time.
type Option func(*Pool)

func WithPerDirectoryCapacity(n int) Option     { return func(p *Pool) { p.perDirCap = n } }
func WithGlobalCapacity(n int) Option           { return func(p *Pool) { p.globalCap = n } }
func WithIdleTimeout(d time.Duration) Option    { return func(p *Pool) { p.idleTimeout = d } }
func WithHealthInterval(d time.Duration) Option { return func(p *Pool) { p.healthInterval = d } }
func WithLogger(l telemetry.Logger) Option      { return func(p *Pool) { p.logger = l } }
func WithTracer(t telemetry.Tracer) Option      { return func(p *Pool) { p.tracer = t } }
func WithCanonicalizeFunc(f CanonicalizeFunc) Option {
	return func(p *Pool) { p.canonicalize = f }
}

// New constructs a Shell Pool backed by launcher. Background maintenance
// (idle eviction, pool reclamation, health checks) starts immediately; call
// Shutdown to stop it and kill every shell.
func New(launcher Launcher, opts ...Option) *Pool {
	p := &Pool{
		dirs:           make(map[string]*subPool),
		perDirCap:      4,
		globalCap:      32,
		idleTimeout:    10 * time.Minute,
		healthInterval: time.Minute,
		launcher:       launcher,
		canonicalize:   func(path string) (string, error) { return path, nil },
		logger:         telemetry.NewNoopLogger(),
		tracer:         telemetry.NewNoopTracer(),
		stopCh:         make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.wg.Add(1)
	go p.maintenanceLoop()
	return p
}

func (p *Pool) breakerFor(sp *subPool) *gobreaker.CircuitBreaker {
	if sp.breaker == nil {
		sp.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "shellpool:" + sp.dir,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return sp.breaker
}

// GetShell canonicalizes workingDir, locates or creates its sub-pool, and
// returns an idle healthy shell if one exists; otherwise spawns a new one if
// capacity permits. It returns a PoolFullError when the sub-pool's or the
// global capacity is exhausted.
func (p *Pool) GetShell(ctx context.Context, workingDir string) (*Shell, error) {
	dir, err := p.canonicalize(workingDir)
	if err != nil {
		return nil, WorkingDirectoryError(err)
	}

	ctx, span := p.tracer.Start(ctx, "shellpool.get_shell")
	defer span.End()

	p.mu.Lock()
	sp, ok := p.dirs[dir]
	if !ok {
		sp = &subPool{dir: dir, lastActivity: time.Now()}
		p.dirs[dir] = sp
	}

	for len(sp.idle) > 0 {
		sh := sp.idle[len(sp.idle)-1]
		sp.idle = sp.idle[:len(sp.idle)-1]
		if !sh.Healthy {
			p.globalCount--
			p.mu.Unlock()
			_ = sh.Close()
			p.mu.Lock()
			continue
		}
		sp.inFlight++
		sp.lastActivity = time.Now()
		p.mu.Unlock()
		return sh, nil
	}

	if len(sp.idle)+sp.inFlight >= p.perDirCap || p.globalCount >= p.globalCap {
		p.mu.Unlock()
		return nil, PoolFullError(dir)
	}
	breaker := p.breakerFor(sp)
	p.mu.Unlock()

	result, err := breaker.Execute(func() (any, error) {
		return p.launcher.Launch(ctx, dir)
	})
	if err != nil {
		p.logger.Warn(ctx, "shell spawn failed", "working_dir", dir, "err", err)
		return nil, SpawnError(err)
	}
	proc := result.(Process)
	sh := newShell(dir, proc)

	p.mu.Lock()
	sp.inFlight++
	p.globalCount++
	sp.lastActivity = time.Now()
	p.mu.Unlock()

	p.logger.Info(ctx, "shell spawned", "working_dir", dir, "shell_id", sh.ID)
	return sh, nil
}

// ReturnShell updates shell's last-used timestamp and pushes it back onto
// its sub-pool's idle queue, unless the sub-pool is full or the shell is
// unhealthy, in which case it is discarded (§4.2).
func (p *Pool) ReturnShell(shell *Shell) {
	p.mu.Lock()
	sp, ok := p.dirs[shell.WorkingDir]
	if !ok {
		p.mu.Unlock()
		p.discard(shell)
		return
	}
	sp.inFlight--
	shell.LastUsedAt = time.Now()
	sp.lastActivity = shell.LastUsedAt

	if !shell.Healthy || len(sp.idle) >= p.perDirCap {
		p.globalCount--
		p.mu.Unlock()
		_ = shell.Close()
		return
	}
	sp.idle = append(sp.idle, shell)
	p.mu.Unlock()
}

// discard kills shell and decrements global accounting without attempting
// to touch a sub-pool's idle queue (used when the owning sub-pool already
// vanished from under it, e.g. after reclamation).
func (p *Pool) discard(shell *Shell) {
	p.mu.Lock()
	p.globalCount--
	p.mu.Unlock()
	_ = shell.Close()
}

// DiscardShell kills shell and removes it from in-flight accounting without
// returning it to the idle queue. Used by callers that know the shell is no
// longer usable (timed-out command, cancelled operation).
func (p *Pool) DiscardShell(shell *Shell) {
	p.mu.Lock()
	if sp, ok := p.dirs[shell.WorkingDir]; ok {
		sp.inFlight--
		sp.lastActivity = time.Now()
	}
	p.globalCount--
	p.mu.Unlock()
	_ = shell.Close()
}

// RunCommand sends argv over shell's stdin as a wire-framed Command and
// awaits the Response, enforcing timeout by killing the process and
// returning ProcessDiedError on expiration (§4.2).
func (p *Pool) RunCommand(ctx context.Context, shell *Shell, argv []string, workingDir string, timeout time.Duration) (Response, error) {
	ctx, span := p.tracer.Start(ctx, "shellpool.run_command")
	defer span.End()

	cmd := Command{
		ID:         shell.ID + ":" + fmt.Sprint(time.Now().UnixNano()),
		Argv:       argv,
		WorkingDir: workingDir,
		TimeoutMS:  timeout.Milliseconds(),
	}

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := WriteCommand(shell.proc.Writer(), cmd); err != nil {
			done <- result{err: SerializationError(err)}
			return
		}
		resp, err := ReadResponse(shell.proc.Reader())
		if err != nil {
			done <- result{err: ProcessDiedError(err)}
			return
		}
		done <- result{resp: resp}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case r := <-done:
		return r.resp, r.err
	case <-timer:
		shell.Healthy = false
		_ = shell.Close()
		return Response{}, ProcessDiedError(fmt.Errorf("command exceeded %s", timeout))
	case <-ctx.Done():
		shell.Healthy = false
		_ = shell.Close()
		return Response{}, ProcessDiedError(ctx.Err())
	}
}

// HealthCheck sends a trivial probe command; on failure the shell is
// flagged unhealthy and is discarded on its next ReturnShell.
func (p *Pool) HealthCheck(ctx context.Context, shell *Shell) {
	_, err := p.RunCommand(ctx, shell, []string{"true"}, shell.WorkingDir, 5*time.Second)
	if err != nil {
		shell.Healthy = false
	}
}

// Shutdown stops the maintenance loop and kills every pooled shell.
func (p *Pool) Shutdown() {
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sp := range p.dirs {
		for _, sh := range sp.idle {
			_ = sh.Close()
		}
		sp.idle = nil
	}
	p.dirs = make(map[string]*subPool)
	p.globalCount = 0
}

// Stats reports point-in-time occupancy for observability/tests.
type Stats struct {
	Directory string
	Idle      int
	InFlight  int
}

func (p *Pool) Stats() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stats, 0, len(p.dirs))
	for dir, sp := range p.dirs {
		out = append(out, Stats{Directory: dir, Idle: len(sp.idle), InFlight: sp.inFlight})
	}
	return out
}
