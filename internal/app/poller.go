package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/five82/c8yview/internal/pipeline"
)

const maxBackoff = 30 * time.Second

// Refresher runs a refresh of every collection. *actions.Router implements it.
type Refresher interface {
	RefreshAll(ctx context.Context) []pipeline.Result
}

// StartPoller launches a background goroutine that refreshes every collection
// at interval, backing off while refreshes fail. It returns immediately and does
// nothing when interval is not positive.
func StartPoller(ctx context.Context, r Refresher, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	go func() {
		failures := 0
		timer := time.NewTimer(interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			if failed := failedCollections(r.RefreshAll(ctx)); len(failed) > 0 {
				failures++
				log.Warn("periodic refresh failed",
					zap.Strings("collections", failed),
					zap.Int("consecutive_failures", failures),
				)
			} else {
				failures = 0
			}
			timer.Reset(calculateBackoff(failures, interval))
		}
	}()
}

func failedCollections(results []pipeline.Result) []string {
	var failed []string
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res.Collection)
		}
	}
	return failed
}

// calculateBackoff doubles base per consecutive failure, capped at maxBackoff
// or base, whichever is larger.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	limit := max(maxBackoff, base)
	d := base
	for range failures {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}
