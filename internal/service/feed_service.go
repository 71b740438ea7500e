package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/consensus"
	"github.com/concordmarkets/concord/internal/domain"
)

// FeedService fronts the consensus engine: feed registration, sample intake
// and consensus reads. Computed results are cached and published; reads of
// the latest consensus go through the cache.
type FeedService struct {
	engine *consensus.Engine
	cache  domain.ConsensusCache
	bus    domain.EventBus
	logger *slog.Logger
}

// NewFeedService creates a FeedService with all required dependencies.
func NewFeedService(
	engine *consensus.Engine,
	cache domain.ConsensusCache,
	bus domain.EventBus,
	logger *slog.Logger,
) *FeedService {
	return &FeedService{
		engine: engine,
		cache:  cache,
		bus:    bus,
		logger: logger,
	}
}

// Register creates a feed if needed and enrolls a reporter on it.
func (s *FeedService) Register(ctx context.Context, actor common.Address, name, category string, source common.Address, weightBp int64) (domain.Feed, error) {
	f, ev, err := s.engine.Register(ctx, actor, name, category, source, weightBp)
	if err != nil {
		return domain.Feed{}, fmt.Errorf("feed_service: %w", err)
	}
	publishEvent(ctx, s.bus, s.logger, ev)
	return f, nil
}

// Deactivate stops a feed from accepting samples.
func (s *FeedService) Deactivate(ctx context.Context, actor common.Address, id domain.FeedID) error {
	ev, err := s.engine.Deactivate(ctx, actor, id)
	if err != nil {
		return fmt.Errorf("feed_service: %w", err)
	}
	publishEvent(ctx, s.bus, s.logger, ev)
	return nil
}

// SetWeight updates one reporter's weight, or every reporter's when source is
// the zero address.
func (s *FeedService) SetWeight(ctx context.Context, actor common.Address, id domain.FeedID, source common.Address, weightBp int64) error {
	ev, err := s.engine.SetWeight(ctx, actor, id, source, weightBp)
	if err != nil {
		return fmt.Errorf("feed_service: %w", err)
	}
	publishEvent(ctx, s.bus, s.logger, ev)
	return nil
}

// SubmitSample records a reporter's latest observation for a feed.
func (s *FeedService) SubmitSample(ctx context.Context, actor common.Address, id domain.FeedID, price *big.Int, valid bool) (domain.FeedSample, error) {
	sample, ev, err := s.engine.SubmitSample(ctx, actor, id, price, valid)
	if err != nil {
		return domain.FeedSample{}, fmt.Errorf("feed_service: %w", err)
	}
	publishEvent(ctx, s.bus, s.logger, ev)
	return sample, nil
}

// Compute aggregates a feed's current samples into a fresh consensus value,
// caches it and publishes the result.
func (s *FeedService) Compute(ctx context.Context, id domain.FeedID) (domain.ConsensusResult, error) {
	r, ev, err := s.engine.Compute(ctx, id)
	if err != nil {
		return domain.ConsensusResult{}, fmt.Errorf("feed_service: %w", err)
	}

	if cacheErr := s.cache.Set(ctx, r); cacheErr != nil {
		s.logger.WarnContext(ctx, "feed_service: cache set failed",
			slog.String("feed_id", id.Hex()),
			slog.String("error", cacheErr.Error()),
		)
	}
	publishEvent(ctx, s.bus, s.logger, ev)
	return r, nil
}

// Latest returns the most recent consensus for a feed, checking the cache
// first and falling back to the persistent store on a miss.
func (s *FeedService) Latest(ctx context.Context, id domain.FeedID) (domain.ConsensusResult, error) {
	r, err := s.cache.Get(ctx, id)
	if err == nil {
		return r, nil
	}

	r, err = s.engine.Latest(ctx, id)
	if err != nil {
		return domain.ConsensusResult{}, fmt.Errorf("feed_service: %w", err)
	}

	if cacheErr := s.cache.Set(ctx, r); cacheErr != nil {
		s.logger.WarnContext(ctx, "feed_service: cache set failed",
			slog.String("feed_id", id.Hex()),
			slog.String("error", cacheErr.Error()),
		)
	}
	return r, nil
}

// GetFeed returns a feed by id.
func (s *FeedService) GetFeed(ctx context.Context, id domain.FeedID) (domain.Feed, error) {
	f, err := s.engine.GetFeed(ctx, id)
	if err != nil {
		return domain.Feed{}, fmt.Errorf("feed_service: %w", err)
	}
	return f, nil
}

// ListFeeds returns every registered feed.
func (s *FeedService) ListFeeds(ctx context.Context) ([]domain.Feed, error) {
	feeds, err := s.engine.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed_service: %w", err)
	}
	return feeds, nil
}

// ListSources returns a feed's reporter memberships.
func (s *FeedService) ListSources(ctx context.Context, id domain.FeedID) ([]domain.FeedSource, error) {
	sources, err := s.engine.ListSources(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("feed_service: %w", err)
	}
	return sources, nil
}
