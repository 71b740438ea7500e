// Package settle pays out settled markets. Claim is the money-moving path:
// it flips the stake's claimed flag and credits the payout inside one unit of
// work, under the same per-market mutex the ledger uses, so a payout is
// either fully recorded or not at all and can never be taken twice.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
	"github.com/concordmarkets/concord/internal/ledger"
	"github.com/concordmarkets/concord/internal/reward"
)

// Engine settles claims against the reward calculator.
type Engine struct {
	uow    domain.UnitOfWork
	calc   reward.Calculator
	locks  *ledger.KeyedMutex
	logger *slog.Logger

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. locks must be the same KeyedMutex the ledger uses so
// claims and stakes on one market serialize against each other.
func New(uow domain.UnitOfWork, calc reward.Calculator, locks *ledger.KeyedMutex, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		uow:    uow,
		calc:   calc,
		locks:  locks,
		logger: logger.With(slog.String("component", "settle")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Claim pays out the caller's winning stake on a settled market. The payout
// is the stake plus a pro-rata share of the losing pool after the platform
// fee. Exactly-once: the claimed flag and the balance credit commit in the
// same transaction, and a repeat claim fails on the flag.
func (e *Engine) Claim(ctx context.Context, actor common.Address, marketID int64) (reward.Breakdown, domain.Event, error) {
	unlock := e.locks.Lock(marketID)
	defer unlock()

	m, err := e.uow.Markets().GetByID(ctx, marketID)
	if err != nil {
		return reward.Breakdown{}, domain.Event{}, fmt.Errorf("settle: market %d: %w", marketID, err)
	}
	if !m.Settled {
		return reward.Breakdown{}, domain.Event{}, fmt.Errorf("settle: market %d: %w", marketID, domain.ErrNotSettled)
	}

	st, err := e.uow.Stakes().Get(ctx, marketID, actor)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return reward.Breakdown{}, domain.Event{}, fmt.Errorf("settle: market %d user %s: %w", marketID, actor.Hex(), domain.ErrNoStake)
		}
		return reward.Breakdown{}, domain.Event{}, fmt.Errorf("settle: get stake: %w", err)
	}
	if st.Claimed {
		return reward.Breakdown{}, domain.Event{}, fmt.Errorf("settle: market %d: %w", marketID, domain.ErrAlreadyClaimed)
	}
	if !st.Side.Matches(m.Outcome) {
		return reward.Breakdown{}, domain.Event{}, fmt.Errorf("settle: market %d: %w", marketID, domain.ErrLostPrediction)
	}

	winPool, losePool := pools(m)
	b, err := e.calc.Payout(st.Amount, winPool, losePool)
	if err != nil {
		return reward.Breakdown{}, domain.Event{}, fmt.Errorf("settle: market %d: %w", marketID, err)
	}

	now := e.now()
	var ev domain.Event
	err = e.uow.InTx(ctx, func(tx domain.Stores) error {
		if err := tx.Stakes().MarkClaimed(ctx, marketID, actor, now); err != nil {
			return fmt.Errorf("mark claimed: %w", err)
		}
		if err := tx.Balances().Credit(ctx, actor, b.Payout); err != nil {
			return fmt.Errorf("credit payout: %w", domain.ErrTransferFailed)
		}
		ev = domain.NewEvent(domain.EventRewardClaimed, marketEntityID(marketID), actor, now, map[string]any{
			"stake":  fixedpoint.Format(b.Stake),
			"reward": fixedpoint.Format(b.Reward),
			"payout": fixedpoint.Format(b.Payout),
		})
		return tx.Audit().Append(ctx, ev)
	})
	if err != nil {
		return reward.Breakdown{}, domain.Event{}, fmt.Errorf("settle: %w", err)
	}

	e.logger.InfoContext(ctx, "settle: reward claimed",
		slog.Int64("market_id", marketID),
		slog.String("user", actor.Hex()),
		slog.String("payout", fixedpoint.Format(b.Payout)),
	)
	return b, ev, nil
}

// PotentialReward previews a user's payout without mutating anything. Before
// settlement it assumes the user's side wins; after settlement it reports the
// actual payout, or zero for a losing or already-claimed stake.
func (e *Engine) PotentialReward(ctx context.Context, user common.Address, marketID int64) (*big.Int, error) {
	m, err := e.uow.Markets().GetByID(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("settle: market %d: %w", marketID, err)
	}
	st, err := e.uow.Stakes().Get(ctx, marketID, user)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("settle: get stake: %w", err)
	}

	if m.Settled {
		if st.Claimed || !st.Side.Matches(m.Outcome) {
			return new(big.Int), nil
		}
	}

	sidePool := m.PoolFor(st.Side)
	otherPool := m.PoolFor(st.Side.Opposite())
	return e.calc.Estimate(st.Amount, sidePool, otherPool), nil
}

// Odds returns the current implied odds for a market in basis points.
func (e *Engine) Odds(ctx context.Context, marketID int64) (yesBp, noBp int64, err error) {
	m, err := e.uow.Markets().GetByID(ctx, marketID)
	if err != nil {
		return 0, 0, fmt.Errorf("settle: market %d: %w", marketID, err)
	}
	yesBp, noBp = reward.Odds(m.TotalYes, m.TotalNo)
	return yesBp, noBp, nil
}

func pools(m domain.Market) (winPool, losePool *big.Int) {
	if m.Outcome {
		return m.TotalYes, m.TotalNo
	}
	return m.TotalNo, m.TotalYes
}

func marketEntityID(id int64) string {
	return "market:" + strconv.FormatInt(id, 10)
}
