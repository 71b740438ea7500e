package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/concordmarkets/concord/internal/domain"
)

// BalanceStore implements domain.TransferLedger using PostgreSQL.
type BalanceStore struct {
	db db
}

// Balance returns the user's balance; a missing row reads as zero.
func (s *BalanceStore) Balance(ctx context.Context, user common.Address) (*big.Int, error) {
	var amount string
	err := s.db.QueryRow(ctx,
		`SELECT amount FROM balances WHERE user_addr = $1`, user.Hex()).Scan(&amount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("postgres: balance for %s: %w", user.Hex(), err)
	}
	return scanBig(amount)
}

// Credit adds amount to the user's balance, creating the row if needed.
func (s *BalanceStore) Credit(ctx context.Context, user common.Address, amount *big.Int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO balances (user_addr, amount, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_addr) DO UPDATE SET
			amount     = ((balances.amount::NUMERIC) + ($2::NUMERIC))::TEXT,
			updated_at = NOW()`,
		user.Hex(), amount.String())
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", user.Hex(), err)
	}
	return nil
}

// Debit subtracts amount from the user's balance. The WHERE clause refuses
// to take the balance negative, so an overdraft affects zero rows and is
// reported as ErrInsufficientBalance.
func (s *BalanceStore) Debit(ctx context.Context, user common.Address, amount *big.Int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE balances
		SET amount = ((amount::NUMERIC) - ($2::NUMERIC))::TEXT, updated_at = NOW()
		WHERE user_addr = $1 AND (amount::NUMERIC) >= ($2::NUMERIC)`,
		user.Hex(), amount.String())
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", user.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}
