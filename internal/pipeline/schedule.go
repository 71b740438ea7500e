package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// runOnSchedule invokes fn at every activation of the schedule until the
// context is cancelled. Activations are computed fresh after each run, so a
// slow fn never causes a backlog of missed triggers.
func runOnSchedule(ctx context.Context, schedule cron.Schedule, logger *slog.Logger, fn func(context.Context)) error {
	for {
		next := schedule.Next(time.Now().UTC())
		wait := time.Until(next)
		logger.DebugContext(ctx, "pipeline: waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.InfoContext(ctx, "pipeline: schedule stopped")
			return ctx.Err()
		case <-timer.C:
			fn(ctx)
		}
	}
}
