package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/concordmarkets/concord/internal/domain"
)

// StakeStore implements domain.StakeStore using PostgreSQL.
type StakeStore struct {
	db db
}

const stakeCols = `market_id, user_addr, side, amount, claimed, staked_at, claimed_at`

// Create inserts a stake. The (market_id, user_addr) primary key turns a
// repeat stake into a unique violation, reported as ErrDuplicateStake.
func (s *StakeStore) Create(ctx context.Context, st domain.Stake) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO stakes (market_id, user_addr, side, amount, claimed, staked_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		st.MarketID, st.User.Hex(), string(st.Side), st.Amount.String(),
		st.Claimed, st.StakedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateStake
		}
		return fmt.Errorf("postgres: create stake: %w", err)
	}
	return nil
}

func scanStake(row pgx.Row) (domain.Stake, error) {
	var (
		st     domain.Stake
		user   string
		side   string
		amount string
	)
	err := row.Scan(&st.MarketID, &user, &side, &amount, &st.Claimed, &st.StakedAt, &st.ClaimedAt)
	if err != nil {
		return domain.Stake{}, err
	}
	if st.Amount, err = scanBig(amount); err != nil {
		return domain.Stake{}, err
	}
	st.User = common.HexToAddress(user)
	st.Side = domain.Side(side)
	return st, nil
}

// Get retrieves one user's stake on a market.
func (s *StakeStore) Get(ctx context.Context, marketID int64, user common.Address) (domain.Stake, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+stakeCols+` FROM stakes WHERE market_id = $1 AND user_addr = $2`,
		marketID, user.Hex())
	st, err := scanStake(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Stake{}, domain.ErrNotFound
		}
		return domain.Stake{}, fmt.Errorf("postgres: get stake: %w", err)
	}
	return st, nil
}

// ListByMarket returns all stakes on a market, oldest first.
func (s *StakeStore) ListByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.Stake, error) {
	query := `SELECT ` + stakeCols + ` FROM stakes WHERE market_id = $1 ORDER BY staked_at`
	args := []any{marketID}
	query, args = paginate(query, args, opts)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stakes for market %d: %w", marketID, err)
	}
	defer rows.Close()

	return collectStakes(rows)
}

// ListByUser returns all of a user's stakes, oldest first.
func (s *StakeStore) ListByUser(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Stake, error) {
	query := `SELECT ` + stakeCols + ` FROM stakes WHERE user_addr = $1 ORDER BY staked_at`
	args := []any{user.Hex()}
	query, args = paginate(query, args, opts)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stakes for user %s: %w", user.Hex(), err)
	}
	defer rows.Close()

	return collectStakes(rows)
}

func collectStakes(rows pgx.Rows) ([]domain.Stake, error) {
	var stakes []domain.Stake
	for rows.Next() {
		st, err := scanStake(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan stake: %w", err)
		}
		stakes = append(stakes, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: stake rows: %w", err)
	}
	return stakes, nil
}

// MarkClaimed flips the claimed flag. The WHERE clause only matches an
// unclaimed row, so a concurrent duplicate claim affects zero rows and is
// reported as ErrAlreadyClaimed.
func (s *StakeStore) MarkClaimed(ctx context.Context, marketID int64, user common.Address, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE stakes SET claimed = TRUE, claimed_at = $3
		WHERE market_id = $1 AND user_addr = $2 AND NOT claimed`,
		marketID, user.Hex(), at)
	if err != nil {
		return fmt.Errorf("postgres: mark stake claimed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM stakes WHERE market_id = $1 AND user_addr = $2)`,
			marketID, user.Hex()).Scan(&exists)
		if err != nil {
			return fmt.Errorf("postgres: check stake: %w", err)
		}
		if exists {
			return domain.ErrAlreadyClaimed
		}
		return domain.ErrNoStake
	}
	return nil
}

// paginate appends LIMIT/OFFSET clauses for the given options.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
