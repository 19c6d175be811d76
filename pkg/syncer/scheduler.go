package syncer

import (
	"context"
	"errors"
	"time"
)

// Start runs cycles on the configured interval and on Refresh requests until
// ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	if e.cfg.RunOnStart {
		e.scheduled(ctx, "startup")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.scheduled(ctx, "timer")
		case <-e.refresh:
			e.scheduled(ctx, "refresh")
		}
		dropPending(ticker, e.refresh)
	}
}

// dropPending discards ticks and refresh requests that arrived while a cycle
// ran; they are not queued behind it.
func dropPending(ticker *time.Ticker, refresh <-chan struct{}) {
	for {
		select {
		case <-ticker.C:
		case <-refresh:
		default:
			return
		}
	}
}

// Refresh asks a running Start loop for an immediate cycle. It is a no-op
// while a cycle runs, and requests made while one is already pending are
// coalesced.
func (e *Engine) Refresh() {
	if e.busy.Load() {
		return
	}
	select {
	case e.refresh <- struct{}{}:
	default:
	}
}

func (e *Engine) scheduled(ctx context.Context, trigger string) {
	result, err := e.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		e.logger.Printf("%s cycle skipped: %v", trigger, err)
	case err != nil:
		if ctx.Err() == nil {
			e.logger.Printf("%s cycle failed: %v", trigger, err)
		}
	case result.RateLimited:
		e.logger.Printf("%s cycle stopped early: rate limited after %d updates", trigger, result.Updated)
	default:
		e.logger.Printf("%s cycle finished: %d updated, %d failed, %d notifications in %s",
			trigger, result.Updated, result.Failed, result.Notifications, result.Duration)
	}
}
