package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
	"github.com/concordmarkets/concord/internal/ledger"
	"github.com/concordmarkets/concord/internal/notify"
)

// MarketService fronts the ledger: market lifecycle, stakes, balances. Reads
// go through the market cache; every committed mutation is published on the
// bus and settlements additionally alert operators.
type MarketService struct {
	ledger   *ledger.Ledger
	stores   domain.Stores
	cache    domain.MarketCache
	bus      domain.EventBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	ledger *ledger.Ledger,
	stores domain.Stores,
	cache domain.MarketCache,
	bus domain.EventBus,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		ledger:   ledger,
		stores:   stores,
		cache:    cache,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateMarket opens a new market.
func (s *MarketService) CreateMarket(ctx context.Context, actor common.Address, question string, deadline time.Time, resolver common.Address) (domain.Market, error) {
	m, ev, err := s.ledger.CreateMarket(ctx, actor, question, deadline, resolver)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: %w", err)
	}
	publishEvent(ctx, s.bus, s.logger, ev)
	return m, nil
}

// GetMarket retrieves a market by id, checking the cache first and falling
// back to the persistent store on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id int64) (domain.Market, error) {
	m, err := s.cache.Get(ctx, id)
	if err == nil {
		return m, nil
	}

	m, err = s.ledger.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: %w", err)
	}

	// Back-fill cache; log but do not fail on cache write errors.
	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.Int64("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return m, nil
}

// ListMarkets returns markets directly from the persistent store, newest
// first.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.stores.Markets().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list markets: %w", err)
	}
	return markets, nil
}

// Stake places a stake on one side of a market.
func (s *MarketService) Stake(ctx context.Context, actor common.Address, marketID int64, side domain.Side, amount *big.Int) (domain.Stake, error) {
	st, ev, err := s.ledger.Stake(ctx, actor, marketID, side, amount)
	if err != nil {
		return domain.Stake{}, fmt.Errorf("market_service: %w", err)
	}

	s.invalidate(ctx, marketID)
	publishEvent(ctx, s.bus, s.logger, ev)
	return st, nil
}

// Settle fixes a market's outcome and alerts operators.
func (s *MarketService) Settle(ctx context.Context, actor common.Address, marketID int64, outcome bool) (domain.Market, error) {
	m, ev, err := s.ledger.Settle(ctx, actor, marketID, outcome)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: %w", err)
	}

	s.invalidate(ctx, marketID)
	publishEvent(ctx, s.bus, s.logger, ev)

	side := domain.SideNo
	if m.Outcome {
		side = domain.SideYes
	}
	if err := s.notifier.Notify(ctx, string(domain.EventMarketSettled),
		"Market Settled",
		fmt.Sprintf("Market #%d settled %s.\n%s\nYES pool: %s\nNO pool: %s",
			m.ID, side, m.Question,
			fixedpoint.Format(m.TotalYes), fixedpoint.Format(m.TotalNo)),
	); err != nil {
		s.logger.WarnContext(ctx, "market_service: settle notification failed",
			slog.Int64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	return m, nil
}

// SetConfidence updates a market's confidence annotation.
func (s *MarketService) SetConfidence(ctx context.Context, actor common.Address, marketID int64, value int) error {
	ev, err := s.ledger.SetConfidence(ctx, actor, marketID, value)
	if err != nil {
		return fmt.Errorf("market_service: %w", err)
	}

	s.invalidate(ctx, marketID)
	publishEvent(ctx, s.bus, s.logger, ev)
	return nil
}

// Deposit credits a user's balance.
func (s *MarketService) Deposit(ctx context.Context, actor common.Address, user common.Address, amount *big.Int) error {
	ev, err := s.ledger.Deposit(ctx, actor, user, amount)
	if err != nil {
		return fmt.Errorf("market_service: %w", err)
	}
	publishEvent(ctx, s.bus, s.logger, ev)
	return nil
}

// Balance returns a user's spendable balance.
func (s *MarketService) Balance(ctx context.Context, user common.Address) (*big.Int, error) {
	bal, err := s.stores.Balances().Balance(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("market_service: balance %s: %w", user.Hex(), err)
	}
	return bal, nil
}

// GetStake returns a user's stake on a market.
func (s *MarketService) GetStake(ctx context.Context, marketID int64, user common.Address) (domain.Stake, error) {
	st, err := s.ledger.GetStake(ctx, marketID, user)
	if err != nil {
		return domain.Stake{}, fmt.Errorf("market_service: %w", err)
	}
	return st, nil
}

// ListStakesByMarket returns a market's stakes.
func (s *MarketService) ListStakesByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.Stake, error) {
	stakes, err := s.stores.Stakes().ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: stakes for market %d: %w", marketID, err)
	}
	return stakes, nil
}

// ListStakesByUser returns a user's stakes across markets.
func (s *MarketService) ListStakesByUser(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Stake, error) {
	stakes, err := s.stores.Stakes().ListByUser(ctx, user, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: stakes for user %s: %w", user.Hex(), err)
	}
	return stakes, nil
}

// MarketActivity returns a market's audit trail, newest first.
func (s *MarketService) MarketActivity(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.Event, error) {
	events, err := s.stores.Audit().ListByEntity(ctx, fmt.Sprintf("market:%d", marketID), opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: activity for market %d: %w", marketID, err)
	}
	return events, nil
}

func (s *MarketService) invalidate(ctx context.Context, marketID int64) {
	if err := s.cache.Invalidate(ctx, marketID); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.Int64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		// Non-fatal: the cache will eventually expire on its own.
	}
}
