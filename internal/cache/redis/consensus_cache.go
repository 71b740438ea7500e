package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/concordmarkets/concord/internal/domain"
)

const consensusTTL = 2 * time.Minute

// ConsensusCache implements domain.ConsensusCache with JSON-serialized
// results under consensus:{feedID} keys.
type ConsensusCache struct {
	rdb *redis.Client
}

// NewConsensusCache creates a ConsensusCache backed by the given Client.
func NewConsensusCache(c *Client) *ConsensusCache {
	return &ConsensusCache{rdb: c.Underlying()}
}

func consensusKey(id domain.FeedID) string {
	return "consensus:" + id.Hex()
}

// Set stores a consensus result with the cache TTL.
func (cc *ConsensusCache) Set(ctx context.Context, r domain.ConsensusResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis: marshal consensus %s: %w", r.FeedID.Hex(), err)
	}
	if err := cc.rdb.Set(ctx, consensusKey(r.FeedID), data, consensusTTL).Err(); err != nil {
		return fmt.Errorf("redis: set consensus %s: %w", r.FeedID.Hex(), err)
	}
	return nil
}

// Get retrieves the cached consensus for a feed. It returns
// domain.ErrNotFound on a miss.
func (cc *ConsensusCache) Get(ctx context.Context, feedID domain.FeedID) (domain.ConsensusResult, error) {
	data, err := cc.rdb.Get(ctx, consensusKey(feedID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ConsensusResult{}, domain.ErrNotFound
		}
		return domain.ConsensusResult{}, fmt.Errorf("redis: get consensus %s: %w", feedID.Hex(), err)
	}

	var r domain.ConsensusResult
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.ConsensusResult{}, fmt.Errorf("redis: unmarshal consensus %s: %w", feedID.Hex(), err)
	}
	return r, nil
}

// Compile-time interface check.
var _ domain.ConsensusCache = (*ConsensusCache)(nil)
