package memory

import (
	"context"

	"github.com/concordmarkets/concord/internal/domain"
)

// MarketCache is a cache that never hits. Get always misses so callers fall
// through to the store, which in dev mode is in-process anyway.
type MarketCache struct{}

// NewMarketCache creates a MarketCache.
func NewMarketCache() MarketCache { return MarketCache{} }

func (MarketCache) Get(ctx context.Context, id int64) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (MarketCache) Set(ctx context.Context, m domain.Market) error { return nil }

func (MarketCache) Invalidate(ctx context.Context, id int64) error { return nil }

// ConsensusCache is the consensus counterpart of MarketCache.
type ConsensusCache struct{}

// NewConsensusCache creates a ConsensusCache.
func NewConsensusCache() ConsensusCache { return ConsensusCache{} }

func (ConsensusCache) Get(ctx context.Context, feedID domain.FeedID) (domain.ConsensusResult, error) {
	return domain.ConsensusResult{}, domain.ErrNotFound
}

func (ConsensusCache) Set(ctx context.Context, r domain.ConsensusResult) error { return nil }

var (
	_ domain.MarketCache    = MarketCache{}
	_ domain.ConsensusCache = ConsensusCache{}
)
