package compaction

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Runner drives Manager's compaction and reclamation on a ticker,
// optionally gated by a token-bucket limiter: each tick takes one token
// before it compacts, so the limiter bounds how many passes start per
// second, not how many bytes a pass reads or writes (spec.md §4.6;
// teacher hashindex/compaction.go ran compaction inline with no
// throttle at all).
type Runner struct {
	manager  *Manager
	interval time.Duration
	limiter  *rate.Limiter

	group  *errgroup.Group
	cancel context.CancelFunc
}

// StartRunner launches a background loop that, every interval, asks
// limiter for permission before compacting a batch of segments and
// reclaiming retired pages. bytesPerSec sets the limiter's rate and burst
// in tokens, one token per tick; it is not a byte count. Pass 0 for
// unlimited.
func StartRunner(manager *Manager, interval time.Duration, bytesPerSec float64) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	var limiter *rate.Limiter
	if bytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))
	}

	r := &Runner{manager: manager, interval: interval, limiter: limiter, group: group, cancel: cancel}

	group.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				r.tick(gctx)
			}
		}
	})

	return r
}

func (r *Runner) tick(ctx context.Context) {
	if r.limiter != nil {
		if err := r.limiter.WaitN(ctx, 1); err != nil {
			return
		}
	}

	segs := r.manager.Segments()
	if len(segs) >= minSegmentsToCompact {
		// Compact everything but the newest segment; the newest one is
		// still likely to receive overlapping writes' shadow reads.
		inputs := segs[:len(segs)-1]
		_, _ = r.manager.Compact(inputs, len(inputs) == len(segs))
	}

	r.manager.Reclaim()
}

// minSegmentsToCompact mirrors teacher lsm.maxL0Files's role: a small
// backlog is left alone, a large one triggers a merge pass.
const minSegmentsToCompact = 4

// Stop cancels the background loop and waits for it to exit.
func (r *Runner) Stop() error {
	r.cancel()
	return r.group.Wait()
}
