package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/concordmarkets/concord/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	db db
}

const marketCols = `id, question, deadline, total_yes, total_no,
	settled, outcome, resolver, creator, confidence,
	created_at, settled_at, updated_at`

// Create inserts the market and returns its assigned id.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) (int64, error) {
	const query = `
		INSERT INTO markets (
			question, deadline, total_yes, total_no,
			settled, outcome, resolver, creator, confidence,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id`

	var id int64
	err := s.db.QueryRow(ctx, query,
		m.Question, m.Deadline, m.TotalYes.String(), m.TotalNo.String(),
		m.Settled, m.Outcome, m.Resolver.Hex(), m.Creator.Hex(), m.Confidence,
		m.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create market: %w", err)
	}
	return id, nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                  domain.Market
		totalYes, totalNo  string
		resolver, creator  string
	)
	err := row.Scan(
		&m.ID, &m.Question, &m.Deadline, &totalYes, &totalNo,
		&m.Settled, &m.Outcome, &resolver, &creator, &m.Confidence,
		&m.CreatedAt, &m.SettledAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if m.TotalYes, err = scanBig(totalYes); err != nil {
		return domain.Market{}, err
	}
	if m.TotalNo, err = scanBig(totalNo); err != nil {
		return domain.Market{}, err
	}
	m.Resolver = common.HexToAddress(resolver)
	m.Creator = common.HexToAddress(creator)
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// List returns markets ordered newest first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets ORDER BY id DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

// ListExpiredUnsettled returns markets past their deadline that have not
// been settled.
func (s *MarketStore) ListExpiredUnsettled(ctx context.Context, now time.Time) ([]domain.Market, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE NOT settled AND deadline <= $1
		 ORDER BY id`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired markets: %w", err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}

// AddToPool increments one side's stake total.
func (s *MarketStore) AddToPool(ctx context.Context, id int64, side domain.Side, amount *big.Int) error {
	col := "total_no"
	if side == domain.SideYes {
		col = "total_yes"
	}
	query := fmt.Sprintf(`
		UPDATE markets
		SET %s = ((%s::NUMERIC) + ($2::NUMERIC))::TEXT, updated_at = NOW()
		WHERE id = $1`, col, col)

	tag, err := s.db.Exec(ctx, query, id, amount.String())
	if err != nil {
		return fmt.Errorf("postgres: add to pool for market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkSettled fixes the outcome. The WHERE clause only matches an unsettled
// row, so a racing settle from another replica affects zero rows and is
// reported as ErrAlreadySettled instead of overwriting the outcome.
func (s *MarketStore) MarkSettled(ctx context.Context, id int64, outcome bool, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE markets
		SET settled = TRUE, outcome = $2, settled_at = $3, updated_at = $3
		WHERE id = $1 AND NOT settled`, id, outcome, at)
	if err != nil {
		return fmt.Errorf("postgres: settle market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("postgres: check market %d: %w", id, err)
		}
		if exists {
			return domain.ErrAlreadySettled
		}
		return domain.ErrNotFound
	}
	return nil
}

// SetConfidence updates the confidence annotation.
func (s *MarketStore) SetConfidence(ctx context.Context, id int64, value int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE markets SET confidence = $2, updated_at = NOW() WHERE id = $1`,
		id, value)
	if err != nil {
		return fmt.Errorf("postgres: set confidence for market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
