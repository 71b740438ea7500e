package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/concordmarkets/concord/internal/domain"
)

// db is the query surface shared by *pgxpool.Pool and pgx.Tx, so every store
// can run against either the pool or an open transaction.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Stores bundles the postgres store implementations over one db handle.
type Stores struct {
	db db
}

// NewStores creates a Stores bundle bound to the pool.
func NewStores(pool *pgxpool.Pool) *Stores {
	return &Stores{db: pool}
}

func (s *Stores) Markets() domain.MarketStore      { return &MarketStore{db: s.db} }
func (s *Stores) Stakes() domain.StakeStore        { return &StakeStore{db: s.db} }
func (s *Stores) Feeds() domain.FeedStore          { return &FeedStore{db: s.db} }
func (s *Stores) Samples() domain.SampleStore      { return &SampleStore{db: s.db} }
func (s *Stores) Consensus() domain.ConsensusStore { return &ConsensusStore{db: s.db} }
func (s *Stores) Balances() domain.TransferLedger  { return &BalanceStore{db: s.db} }
func (s *Stores) Audit() domain.AuditStore         { return &AuditStore{db: s.db} }

// UnitOfWork implements domain.UnitOfWork over a pgx pool. Stores obtained
// outside InTx run on the pool with auto-commit; inside InTx they share one
// transaction that commits only when fn returns nil.
type UnitOfWork struct {
	*Stores
	pool *pgxpool.Pool
}

// NewUnitOfWork creates a UnitOfWork over the pool.
func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{Stores: NewStores(pool), pool: pool}
}

// InTx runs fn against transaction-bound stores. The transaction is rolled
// back when fn returns an error or panics.
func (u *UnitOfWork) InTx(ctx context.Context, fn func(tx domain.Stores) error) error {
	return pgx.BeginFunc(ctx, u.pool, func(tx pgx.Tx) error {
		return fn(&Stores{db: tx})
	})
}

var _ domain.UnitOfWork = (*UnitOfWork)(nil)

// Amounts are stored as TEXT holding base-10 WAD integers and cast to
// NUMERIC inside SQL for arithmetic. This keeps full 256-bit precision
// without depending on driver-side numeric conversions.

// scanBig parses a stored amount column.
func scanBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed amount %q", s)
	}
	return n, nil
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
