package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/concordmarkets/concord/internal/domain"
)

// ConsensusStore implements domain.ConsensusStore using PostgreSQL. One row
// per feed, overwritten on each recomputation.
type ConsensusStore struct {
	db db
}

// Put stores the consensus result for a feed.
func (s *ConsensusStore) Put(ctx context.Context, r domain.ConsensusResult) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO consensus_results (feed_id, value, sample_count, computed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (feed_id) DO UPDATE SET
			value        = EXCLUDED.value,
			sample_count = EXCLUDED.sample_count,
			computed_at  = EXCLUDED.computed_at`,
		r.FeedID.Hex(), r.Value.String(), r.SampleCount, r.ComputedAt)
	if err != nil {
		return fmt.Errorf("postgres: put consensus result: %w", err)
	}
	return nil
}

// Get retrieves the latest consensus result for a feed.
func (s *ConsensusStore) Get(ctx context.Context, feedID domain.FeedID) (domain.ConsensusResult, error) {
	var (
		r         domain.ConsensusResult
		id, value string
	)
	err := s.db.QueryRow(ctx, `
		SELECT feed_id, value, sample_count, computed_at
		FROM consensus_results WHERE feed_id = $1`, feedID.Hex(),
	).Scan(&id, &value, &r.SampleCount, &r.ComputedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ConsensusResult{}, domain.ErrNotFound
		}
		return domain.ConsensusResult{}, fmt.Errorf("postgres: get consensus result: %w", err)
	}
	if r.Value, err = scanBig(value); err != nil {
		return domain.ConsensusResult{}, err
	}
	r.FeedID = common.HexToHash(id)
	return r, nil
}
