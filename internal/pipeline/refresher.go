// Package pipeline runs the background jobs: periodic consensus
// recomputation, the expiry sweep that nudges resolvers, and audit archival
// to cold storage.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/concordmarkets/concord/internal/domain"
)

// ConsensusRefresher recomputes consensus for every active feed on a fixed
// interval, so readers always see a value no older than the interval plus
// the staleness window.
type ConsensusRefresher struct {
	feeds    FeedRefreshService
	interval time.Duration
	logger   *slog.Logger
}

// FeedRefreshService is the slice of the feed service the refresher uses.
type FeedRefreshService interface {
	ListFeeds(ctx context.Context) ([]domain.Feed, error)
	Compute(ctx context.Context, id domain.FeedID) (domain.ConsensusResult, error)
}

// NewConsensusRefresher creates a ConsensusRefresher.
func NewConsensusRefresher(feeds FeedRefreshService, interval time.Duration, logger *slog.Logger) *ConsensusRefresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ConsensusRefresher{
		feeds:    feeds,
		interval: interval,
		logger:   logger.With(slog.String("component", "consensus_refresher")),
	}
}

// Run refreshes until the context is cancelled.
func (r *ConsensusRefresher) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "pipeline: consensus refresher started",
		slog.Duration("interval", r.interval),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "pipeline: consensus refresher stopped")
			return ctx.Err()
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

// refreshAll recomputes every active feed. Feeds without usable samples are
// expected while reporters warm up; those errors stay at debug level.
func (r *ConsensusRefresher) refreshAll(ctx context.Context) {
	feeds, err := r.feeds.ListFeeds(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "pipeline: list feeds failed",
			slog.String("error", err.Error()),
		)
		return
	}

	refreshed := 0
	for _, f := range feeds {
		if !f.Active {
			continue
		}
		if _, err := r.feeds.Compute(ctx, f.ID); err != nil {
			if errors.Is(err, domain.ErrNoValidData) || errors.Is(err, domain.ErrAllOutliers) {
				r.logger.DebugContext(ctx, "pipeline: consensus skipped",
					slog.String("feed_id", f.ID.Hex()),
					slog.String("reason", err.Error()),
				)
			} else {
				r.logger.WarnContext(ctx, "pipeline: consensus refresh failed",
					slog.String("feed_id", f.ID.Hex()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		refreshed++
	}

	r.logger.DebugContext(ctx, "pipeline: consensus refresh complete",
		slog.Int("feeds", len(feeds)),
		slog.Int("refreshed", refreshed),
	)
}
