package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/concordmarkets/concord/internal/feedsource"
)

// Orchestrator manages the background goroutines: external feed polling,
// consensus refreshing, expiry sweeping, and audit archival. Any component
// may be nil, in which case it is skipped.
type Orchestrator struct {
	poller    *feedsource.Poller
	refresher *ConsensusRefresher
	sweeper   *ExpirySweeper
	archiver  *AuditArchiver
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator coordinating the given jobs.
func NewOrchestrator(
	poller *feedsource.Poller,
	refresher *ConsensusRefresher,
	sweeper *ExpirySweeper,
	archiver *AuditArchiver,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		poller:    poller,
		refresher: refresher,
		sweeper:   sweeper,
		archiver:  archiver,
		logger:    logger,
	}
}

// Run starts every configured job as a concurrent goroutine using an
// errgroup. Each goroutine respects ctx cancellation. If any goroutine
// returns a non-context error, the errgroup cancels the shared context and
// Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline: orchestrator starting")

	g, ctx := errgroup.WithContext(ctx)

	if o.poller != nil {
		g.Go(func() error {
			err := o.poller.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("feed poller: %w", err)
		})
	}

	if o.refresher != nil {
		g.Go(func() error {
			err := o.refresher.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("consensus refresher: %w", err)
		})
	}

	if o.sweeper != nil {
		g.Go(func() error {
			err := o.sweeper.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("expiry sweeper: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("audit archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.ErrorContext(ctx, "pipeline: orchestrator stopped with error",
			slog.String("error", err.Error()),
		)
		return err
	}

	o.logger.InfoContext(ctx, "pipeline: orchestrator stopped cleanly")
	return nil
}
