package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
)

// SampleStore implements domain.SampleStore using PostgreSQL.
type SampleStore struct {
	db db
}

// Upsert stores the latest sample for a (feed, source) pair.
func (s *SampleStore) Upsert(ctx context.Context, sm domain.FeedSample) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feed_samples (feed_id, source, price, valid, ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (feed_id, source) DO UPDATE SET
			price = EXCLUDED.price,
			valid = EXCLUDED.valid,
			ts    = EXCLUDED.ts`,
		sm.FeedID.Hex(), sm.Source.Hex(), sm.Price.String(), sm.Valid, sm.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: upsert sample: %w", err)
	}
	return nil
}

// ListByFeed returns the latest sample per source for a feed.
func (s *SampleStore) ListByFeed(ctx context.Context, feedID domain.FeedID) ([]domain.FeedSample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT feed_id, source, price, valid, ts
		FROM feed_samples WHERE feed_id = $1 ORDER BY source`, feedID.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list samples: %w", err)
	}
	defer rows.Close()

	var samples []domain.FeedSample
	for rows.Next() {
		var (
			sm                domain.FeedSample
			id, source, price string
		)
		if err := rows.Scan(&id, &source, &price, &sm.Valid, &sm.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan sample: %w", err)
		}
		if sm.Price, err = scanBig(price); err != nil {
			return nil, err
		}
		sm.FeedID = common.HexToHash(id)
		sm.Source = common.HexToAddress(source)
		samples = append(samples, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: sample rows: %w", err)
	}
	return samples, nil
}
