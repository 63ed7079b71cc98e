// internal/poller/runner.go
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Run starts the ticker loop and emits one CycleResult per completed cycle
// on out. A slow cycle does not hold back the next tick; leftovers of an
// earlier cycle are bounded by the link's staleness policy.
func (p *Poller) Run(ctx context.Context, out chan<- CycleResult) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cyc := p.PollOnce()
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.report(ctx, cyc, out)
			}()
		}
	}
}

func (p *Poller) report(ctx context.Context, cyc *Cycle, out chan<- CycleResult) {
	select {
	case <-ctx.Done():
		return
	case <-cyc.Done():
	}
	res := cyc.Result(p.now())
	p.log.Debug("cycle complete",
		zap.Int("ops", res.Ops),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", res.Elapsed()))
	if out == nil {
		return
	}
	select {
	case out <- res:
	case <-ctx.Done():
	}
}
