package cache

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sweeper runs Cache.SweepTTL on a fixed interval until its context is
// cancelled, following the same errgroup-based background-task shutdown
// idiom as compaction.Runner.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	group    *errgroup.Group
	cancel   context.CancelFunc
}

// StartSweeper launches the sweeper goroutine for c. Call Stop to join it.
func StartSweeper(ctx context.Context, c *Cache) *Sweeper {
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	s := &Sweeper{cache: c, interval: c.cfg.SweeperInterval, group: g, cancel: cancel}

	g.Go(func() error {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				c.SweepTTL()
			}
		}
	})

	return s
}

// Stop cancels the sweeper and waits for it to exit.
func (s *Sweeper) Stop() error {
	if s == nil {
		return nil
	}
	s.cancel()
	return s.group.Wait()
}
