// Package sched runs periodic background sweeps, such as the recurring
// insight generation pass in serve mode.
package sched

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Sweeper represents one unit of recurring work.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Start launches a periodic sweep worker. It returns when ctx is done.
func Start(ctx context.Context, logger *log.Logger, interval time.Duration, sweeper Sweeper) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.Sweep(ctx)
			if err != nil {
				logger.Warn("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("sweep produced results", "count", n)
			}
		}
	}
}
