package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/concordmarkets/concord/internal/domain"
)

// FeedStore implements domain.FeedStore using PostgreSQL.
type FeedStore struct {
	db db
}

// Create inserts a feed.
func (s *FeedStore) Create(ctx context.Context, f domain.Feed) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feeds (id, name, category, active, last_update, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID.Hex(), f.Name, f.Category, f.Active, f.LastUpdate, f.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: feed %s exists: %w", f.ID.Hex(), domain.ErrInvalidInput)
		}
		return fmt.Errorf("postgres: create feed: %w", err)
	}
	return nil
}

func scanFeed(row pgx.Row) (domain.Feed, error) {
	var (
		f  domain.Feed
		id string
	)
	err := row.Scan(&id, &f.Name, &f.Category, &f.Active, &f.LastUpdate, &f.CreatedAt)
	if err != nil {
		return domain.Feed{}, err
	}
	f.ID = common.HexToHash(id)
	return f, nil
}

const feedCols = `id, name, category, active, last_update, created_at`

// Get retrieves a feed by id.
func (s *FeedStore) Get(ctx context.Context, id domain.FeedID) (domain.Feed, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+feedCols+` FROM feeds WHERE id = $1`, id.Hex())
	f, err := scanFeed(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Feed{}, domain.ErrNotFound
		}
		return domain.Feed{}, fmt.Errorf("postgres: get feed %s: %w", id.Hex(), err)
	}
	return f, nil
}

// List returns every feed, ordered by name.
func (s *FeedStore) List(ctx context.Context) ([]domain.Feed, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+feedCols+` FROM feeds ORDER BY name, category`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []domain.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: feed rows: %w", err)
	}
	return feeds, nil
}

// SetActive flips the feed's active flag.
func (s *FeedStore) SetActive(ctx context.Context, id domain.FeedID, active bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE feeds SET active = $2 WHERE id = $1`, id.Hex(), active)
	if err != nil {
		return fmt.Errorf("postgres: set feed %s active: %w", id.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Touch bumps the feed's last_update timestamp.
func (s *FeedStore) Touch(ctx context.Context, id domain.FeedID, t time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE feeds SET last_update = $2 WHERE id = $1`, id.Hex(), t)
	if err != nil {
		return fmt.Errorf("postgres: touch feed %s: %w", id.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertSource adds a reporter to a feed or updates its weight.
func (s *FeedStore) UpsertSource(ctx context.Context, src domain.FeedSource) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feed_sources (feed_id, source, weight_bp, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (feed_id, source) DO UPDATE SET weight_bp = EXCLUDED.weight_bp`,
		src.FeedID.Hex(), src.Source.Hex(), src.WeightBp, src.AddedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert feed source: %w", err)
	}
	return nil
}

// ListSources returns a feed's reporters.
func (s *FeedStore) ListSources(ctx context.Context, feedID domain.FeedID) ([]domain.FeedSource, error) {
	rows, err := s.db.Query(ctx, `
		SELECT feed_id, source, weight_bp, added_at
		FROM feed_sources WHERE feed_id = $1 ORDER BY source`, feedID.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list feed sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.FeedSource
	for rows.Next() {
		var (
			src        domain.FeedSource
			id, source string
		)
		if err := rows.Scan(&id, &source, &src.WeightBp, &src.AddedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan feed source: %w", err)
		}
		src.FeedID = common.HexToHash(id)
		src.Source = common.HexToAddress(source)
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: feed source rows: %w", err)
	}
	return sources, nil
}

// SetSourceWeight updates one reporter's weight, or every reporter's when
// source is the zero address.
func (s *FeedStore) SetSourceWeight(ctx context.Context, feedID domain.FeedID, source common.Address, weightBp int64) error {
	if source == (common.Address{}) {
		_, err := s.db.Exec(ctx,
			`UPDATE feed_sources SET weight_bp = $2 WHERE feed_id = $1`,
			feedID.Hex(), weightBp)
		if err != nil {
			return fmt.Errorf("postgres: set feed %s weights: %w", feedID.Hex(), err)
		}
		return nil
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE feed_sources SET weight_bp = $3 WHERE feed_id = $1 AND source = $2`,
		feedID.Hex(), source.Hex(), weightBp)
	if err != nil {
		return fmt.Errorf("postgres: set source weight: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
