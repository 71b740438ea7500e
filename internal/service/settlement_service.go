package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
	"github.com/concordmarkets/concord/internal/notify"
	"github.com/concordmarkets/concord/internal/reward"
	"github.com/concordmarkets/concord/internal/settle"
)

// SettlementService fronts the settlement engine: claims, reward previews and
// implied odds. Claims publish a reward_claimed event and alert operators.
type SettlementService struct {
	engine   *settle.Engine
	bus      domain.EventBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService with all required
// dependencies.
func NewSettlementService(
	engine *settle.Engine,
	bus domain.EventBus,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		engine:   engine,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
	}
}

// Claim pays out the caller's winning stake on a settled market.
func (s *SettlementService) Claim(ctx context.Context, actor common.Address, marketID int64) (reward.Breakdown, error) {
	b, ev, err := s.engine.Claim(ctx, actor, marketID)
	if err != nil {
		return reward.Breakdown{}, fmt.Errorf("settlement_service: %w", err)
	}
	publishEvent(ctx, s.bus, s.logger, ev)

	if err := s.notifier.Notify(ctx, string(domain.EventRewardClaimed),
		"Reward Claimed",
		fmt.Sprintf("Market #%d: %s claimed %s (stake %s, reward %s)",
			marketID, actor.Hex(),
			fixedpoint.Format(b.Payout), fixedpoint.Format(b.Stake), fixedpoint.Format(b.Reward)),
	); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: claim notification failed",
			slog.Int64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	return b, nil
}

// PotentialReward previews a user's payout on a market.
func (s *SettlementService) PotentialReward(ctx context.Context, user common.Address, marketID int64) (*big.Int, error) {
	amount, err := s.engine.PotentialReward(ctx, user, marketID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: %w", err)
	}
	return amount, nil
}

// Odds returns a market's implied odds in basis points.
func (s *SettlementService) Odds(ctx context.Context, marketID int64) (yesBp, noBp int64, err error) {
	yesBp, noBp, err = s.engine.Odds(ctx, marketID)
	if err != nil {
		return 0, 0, fmt.Errorf("settlement_service: %w", err)
	}
	return yesBp, noBp, nil
}
