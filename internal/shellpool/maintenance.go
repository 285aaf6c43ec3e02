package shellpool

import (
	"context"
	"time"
)

// maintenanceLoop is the single coordinator driving idle eviction, empty
// sub-pool reclamation and periodic health checks (§4.2: "Background
// maintenance tasks driven by a single coordinator").
func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweepInterval picks a cadence finer than both the idle timeout and the
// health-check interval so neither policy lags behind its configured value.
func (p *Pool) sweepInterval() time.Duration {
	interval := p.healthInterval
	if p.idleTimeout > 0 && p.idleTimeout/4 < interval {
		interval = p.idleTimeout / 4
	}
	if interval <= 0 {
		interval = time.Second
	}
	return interval
}

func (p *Pool) sweep() {
	now := time.Now()

	p.mu.Lock()
	var toClose []*Shell
	for dir, sp := range p.dirs {
		if p.idleTimeout > 0 {
			kept := sp.idle[:0]
			for _, sh := range sp.idle {
				if now.Sub(sh.LastUsedAt) > p.idleTimeout {
					toClose = append(toClose, sh)
					p.globalCount--
				} else {
					kept = append(kept, sh)
				}
			}
			sp.idle = kept
		}
		if p.idleTimeout > 0 && len(sp.idle) == 0 && sp.inFlight == 0 && now.Sub(sp.lastActivity) > p.idleTimeout {
			delete(p.dirs, dir)
		}
	}
	p.mu.Unlock()

	for _, sh := range toClose {
		_ = sh.Close()
	}

	p.healthCheckAll(now)
}

// healthCheckAll probes every idle shell that is due (its last use predates
// the configured health-check interval). Due shells are pulled out of their
// idle queue and counted in-flight for the duration of the probe, so a
// concurrent GetShell can never hand the same shell to a caller mid-probe.
// An unhealthy shell is discarded by the ReturnShell that follows the probe.
func (p *Pool) healthCheckAll(now time.Time) {
	p.mu.Lock()
	var candidates []*Shell
	for _, sp := range p.dirs {
		kept := sp.idle[:0]
		for _, sh := range sp.idle {
			if now.Sub(sh.LastUsedAt) >= p.healthInterval {
				sp.inFlight++
				candidates = append(candidates, sh)
			} else {
				kept = append(kept, sh)
			}
		}
		sp.idle = kept
	}
	p.mu.Unlock()

	for _, sh := range candidates {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		p.HealthCheck(ctx, sh)
		cancel()
		p.ReturnShell(sh)
	}
}
