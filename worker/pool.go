package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nullstackai/conductor/telemetry"
)

// Pool runs N goroutines that repeatedly poll a Processor for queued work
// (spec.md §5: "Worker jobs run on a pool of background tasks polling the
// queue").
type Pool struct {
	Processor *Processor
	Size      int
	Logger    telemetry.Logger
}

// Run blocks until ctx is cancelled, running Size poll loops concurrently.
func (p *Pool) Run(ctx context.Context) error {
	size := p.Size
	if size <= 0 {
		size = 1
	}
	interval := p.Processor.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < size; i++ {
		g.Go(func() error {
			return p.loop(ctx, interval)
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		claimed, err := p.Processor.ClaimAndRun(ctx)
		if err != nil && p.Logger != nil {
			p.Logger.Error(ctx, "worker: poll loop error", "error", err)
		}
		if claimed {
			// Immediately try again rather than waiting a full tick - a
			// burst of queued jobs should drain as fast as the pool allows.
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
