// Package ledger owns the market and stake records and enforces the market
// state machine: Created -> accepting stakes -> Expired -> Settled. It is the
// only component that mutates stake totals. Every mutation runs inside a unit
// of work together with its audit event, and operations on the same market
// serialize through a per-market mutex.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/auth"
	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
)

// Ledger enforces the market lifecycle over a unit-of-work store bundle.
type Ledger struct {
	uow      domain.UnitOfWork
	policy   *auth.Policy
	minStake *big.Int
	locks    *KeyedMutex
	logger   *slog.Logger

	now   func() time.Time
	score func(question string, deadline, now time.Time) int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithScorer sets the confidence scorer applied to new markets. Without one,
// every market starts at the neutral default.
func WithScorer(score func(question string, deadline, now time.Time) int) Option {
	return func(l *Ledger) { l.score = score }
}

// New creates a Ledger. minStake is the WAD floor below which stakes are
// rejected with ErrBelowMinimum.
func New(uow domain.UnitOfWork, policy *auth.Policy, minStake *big.Int, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		uow:      uow,
		policy:   policy,
		minStake: minStake,
		locks:    NewKeyedMutex(),
		logger:   logger.With(slog.String("component", "ledger")),
		now:      time.Now,
		score: func(string, time.Time, time.Time) int {
			return domain.DefaultConfidence
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locks exposes the per-market mutex so the settlement engine shares the
// same exclusion domain.
func (l *Ledger) Locks() *KeyedMutex {
	return l.locks
}

// CreateMarket validates and records a new market. The deadline must be
// strictly in the future, the resolver nonzero, and the question non-empty.
func (l *Ledger) CreateMarket(ctx context.Context, actor common.Address, question string, deadline time.Time, resolver common.Address) (domain.Market, domain.Event, error) {
	question = strings.TrimSpace(question)
	now := l.now()

	switch {
	case question == "":
		return domain.Market{}, domain.Event{}, fmt.Errorf("ledger: question must not be empty: %w", domain.ErrInvalidInput)
	case !deadline.After(now):
		return domain.Market{}, domain.Event{}, fmt.Errorf("ledger: deadline must be in the future: %w", domain.ErrInvalidInput)
	case resolver == (common.Address{}):
		return domain.Market{}, domain.Event{}, fmt.Errorf("ledger: resolver must not be the zero address: %w", domain.ErrInvalidInput)
	}

	m := domain.Market{
		Question:   question,
		Deadline:   deadline,
		TotalYes:   new(big.Int),
		TotalNo:    new(big.Int),
		Resolver:   resolver,
		Creator:    actor,
		Confidence: clampConfidence(l.score(question, deadline, now)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var ev domain.Event
	err := l.uow.InTx(ctx, func(tx domain.Stores) error {
		id, err := tx.Markets().Create(ctx, m)
		if err != nil {
			return fmt.Errorf("create market: %w", err)
		}
		m.ID = id

		ev = domain.NewEvent(domain.EventMarketCreated, marketEntityID(id), actor, now, map[string]any{
			"question": m.Question,
			"deadline": m.Deadline.Unix(),
			"resolver": m.Resolver.Hex(),
		})
		return tx.Audit().Append(ctx, ev)
	})
	if err != nil {
		return domain.Market{}, domain.Event{}, fmt.Errorf("ledger: %w", err)
	}

	l.logger.InfoContext(ctx, "ledger: market created",
		slog.Int64("market_id", m.ID),
		slog.String("creator", actor.Hex()),
	)
	return m, ev, nil
}

// Stake records a stake on one side of an open market, debiting the user's
// balance and incrementing the side's pool in the same transaction. A second
// stake by the same user on the same market is rejected, not merged.
func (l *Ledger) Stake(ctx context.Context, actor common.Address, marketID int64, side domain.Side, amount *big.Int) (domain.Stake, domain.Event, error) {
	if !side.Valid() {
		return domain.Stake{}, domain.Event{}, fmt.Errorf("ledger: unknown side %q: %w", side, domain.ErrInvalidInput)
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Stake{}, domain.Event{}, fmt.Errorf("ledger: stake amount must be positive: %w", domain.ErrInvalidInput)
	}
	if amount.Cmp(l.minStake) < 0 {
		return domain.Stake{}, domain.Event{}, fmt.Errorf("ledger: stake %s below minimum %s: %w",
			fixedpoint.Format(amount), fixedpoint.Format(l.minStake), domain.ErrBelowMinimum)
	}

	unlock := l.locks.Lock(marketID)
	defer unlock()

	m, err := l.uow.Markets().GetByID(ctx, marketID)
	if err != nil {
		return domain.Stake{}, domain.Event{}, fmt.Errorf("ledger: market %d: %w", marketID, err)
	}

	now := l.now()
	if m.Settled {
		return domain.Stake{}, domain.Event{}, fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrAlreadySettled)
	}
	if !now.Before(m.Deadline) {
		return domain.Stake{}, domain.Event{}, fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrMarketExpired)
	}

	st := domain.Stake{
		MarketID: marketID,
		User:     actor,
		Side:     side,
		Amount:   new(big.Int).Set(amount),
		StakedAt: now,
	}

	var ev domain.Event
	err = l.uow.InTx(ctx, func(tx domain.Stores) error {
		if err := tx.Stakes().Create(ctx, st); err != nil {
			return fmt.Errorf("record stake: %w", err)
		}
		if err := tx.Balances().Debit(ctx, actor, amount); err != nil {
			return fmt.Errorf("debit stake: %w", err)
		}
		if err := tx.Markets().AddToPool(ctx, marketID, side, amount); err != nil {
			return fmt.Errorf("update pool: %w", err)
		}

		ev = domain.NewEvent(domain.EventStakeRecorded, marketEntityID(marketID), actor, now, map[string]any{
			"side":   string(side),
			"amount": fixedpoint.Format(amount),
		})
		return tx.Audit().Append(ctx, ev)
	})
	if err != nil {
		return domain.Stake{}, domain.Event{}, fmt.Errorf("ledger: %w", err)
	}

	l.logger.InfoContext(ctx, "ledger: stake recorded",
		slog.Int64("market_id", marketID),
		slog.String("user", actor.Hex()),
		slog.String("side", string(side)),
		slog.String("amount", fixedpoint.Format(amount)),
	)
	return st, ev, nil
}

// Settle fixes a market's outcome. Only the market's resolver or an admin
// may settle, only after the deadline, and only once; the outcome is
// irreversible afterwards.
func (l *Ledger) Settle(ctx context.Context, actor common.Address, marketID int64, outcome bool) (domain.Market, domain.Event, error) {
	unlock := l.locks.Lock(marketID)
	defer unlock()

	m, err := l.uow.Markets().GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, domain.Event{}, fmt.Errorf("ledger: market %d: %w", marketID, err)
	}
	if err := l.policy.RequireResolver(m, actor); err != nil {
		return domain.Market{}, domain.Event{}, err
	}

	now := l.now()
	if m.Settled {
		return domain.Market{}, domain.Event{}, fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrAlreadySettled)
	}
	if now.Before(m.Deadline) {
		return domain.Market{}, domain.Event{}, fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrNotYetExpired)
	}

	var ev domain.Event
	err = l.uow.InTx(ctx, func(tx domain.Stores) error {
		if err := tx.Markets().MarkSettled(ctx, marketID, outcome, now); err != nil {
			return fmt.Errorf("mark settled: %w", err)
		}
		ev = domain.NewEvent(domain.EventMarketSettled, marketEntityID(marketID), actor, now, map[string]any{
			"outcome":   outcome,
			"total_yes": fixedpoint.Format(m.TotalYes),
			"total_no":  fixedpoint.Format(m.TotalNo),
		})
		return tx.Audit().Append(ctx, ev)
	})
	if err != nil {
		return domain.Market{}, domain.Event{}, fmt.Errorf("ledger: %w", err)
	}

	m.Settled = true
	m.Outcome = outcome
	m.SettledAt = &now
	m.UpdatedAt = now

	l.logger.InfoContext(ctx, "ledger: market settled",
		slog.Int64("market_id", marketID),
		slog.Bool("outcome", outcome),
		slog.String("resolver", actor.Hex()),
	)
	return m, ev, nil
}

// SetConfidence updates the cosmetic confidence annotation. Admin only;
// rejected once the market is settled or when value exceeds 100.
func (l *Ledger) SetConfidence(ctx context.Context, actor common.Address, marketID int64, value int) (domain.Event, error) {
	if err := l.policy.RequireAdmin(actor); err != nil {
		return domain.Event{}, err
	}
	if value < 0 || value > 100 {
		return domain.Event{}, fmt.Errorf("ledger: confidence %d out of range 0-100: %w", value, domain.ErrInvalidInput)
	}

	unlock := l.locks.Lock(marketID)
	defer unlock()

	m, err := l.uow.Markets().GetByID(ctx, marketID)
	if err != nil {
		return domain.Event{}, fmt.Errorf("ledger: market %d: %w", marketID, err)
	}
	if m.Settled {
		return domain.Event{}, fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrAlreadySettled)
	}

	now := l.now()
	var ev domain.Event
	err = l.uow.InTx(ctx, func(tx domain.Stores) error {
		if err := tx.Markets().SetConfidence(ctx, marketID, value); err != nil {
			return fmt.Errorf("set confidence: %w", err)
		}
		ev = domain.NewEvent(domain.EventConfidenceUpdated, marketEntityID(marketID), actor, now, map[string]any{
			"confidence": value,
		})
		return tx.Audit().Append(ctx, ev)
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("ledger: %w", err)
	}
	return ev, nil
}

// Deposit credits a user's balance. This is the admin-operated stand-in for
// the external wallet boundary.
func (l *Ledger) Deposit(ctx context.Context, actor common.Address, user common.Address, amount *big.Int) (domain.Event, error) {
	if err := l.policy.RequireAdmin(actor); err != nil {
		return domain.Event{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Event{}, fmt.Errorf("ledger: deposit amount must be positive: %w", domain.ErrInvalidInput)
	}

	now := l.now()
	var ev domain.Event
	err := l.uow.InTx(ctx, func(tx domain.Stores) error {
		if err := tx.Balances().Credit(ctx, user, amount); err != nil {
			return fmt.Errorf("credit deposit: %w", err)
		}
		ev = domain.NewEvent(domain.EventBalanceCredited, user.Hex(), actor, now, map[string]any{
			"amount": fixedpoint.Format(amount),
		})
		return tx.Audit().Append(ctx, ev)
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("ledger: %w", err)
	}
	return ev, nil
}

// GetMarket returns a market by id.
func (l *Ledger) GetMarket(ctx context.Context, id int64) (domain.Market, error) {
	m, err := l.uow.Markets().GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: market %d: %w", id, err)
	}
	return m, nil
}

// GetStake returns a user's stake on a market, mapping a missing row to
// ErrNoStake.
func (l *Ledger) GetStake(ctx context.Context, marketID int64, user common.Address) (domain.Stake, error) {
	st, err := l.uow.Stakes().Get(ctx, marketID, user)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Stake{}, fmt.Errorf("ledger: market %d user %s: %w", marketID, user.Hex(), domain.ErrNoStake)
		}
		return domain.Stake{}, fmt.Errorf("ledger: get stake: %w", err)
	}
	return st, nil
}

func marketEntityID(id int64) string {
	return "market:" + strconv.FormatInt(id, 10)
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
