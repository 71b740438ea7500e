package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/fixedpoint"
	"github.com/concordmarkets/concord/internal/reward"
)

// SettlementService defines what the settlement handler needs from the
// service layer.
type SettlementService interface {
	Claim(ctx context.Context, actor common.Address, marketID int64) (reward.Breakdown, error)
	PotentialReward(ctx context.Context, user common.Address, marketID int64) (*big.Int, error)
	Odds(ctx context.Context, marketID int64) (yesBp, noBp int64, err error)
}

// SettlementHandler serves claim, reward-preview and odds endpoints.
type SettlementHandler struct {
	settlement SettlementService
	logger     *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlement SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlement: settlement,
		logger:     logger,
	}
}

// Claim pays out the caller's winning stake on a settled market.
// POST /api/markets/{id}/claim
func (h *SettlementHandler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, err := actor(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	id, err := marketID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	b, err := h.settlement.Claim(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"user":      caller.Hex(),
		"stake":     fixedpoint.Format(b.Stake),
		"reward":    fixedpoint.Format(b.Reward),
		"payout":    fixedpoint.Format(b.Payout),
	})
}

// PotentialReward previews a user's payout on a market.
// GET /api/markets/{id}/reward?user=0x...
func (h *SettlementHandler) PotentialReward(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	user, err := parseAddress(r.URL.Query().Get("user"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	amount, err := h.settlement.PotentialReward(r.Context(), user, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"user":      user.Hex(),
		"potential": fixedpoint.Format(amount),
	})
}

// Odds returns a market's implied odds in basis points.
// GET /api/markets/{id}/odds
func (h *SettlementHandler) Odds(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	yesBp, noBp, err := h.settlement.Odds(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"yes_bp":    yesBp,
		"no_bp":     noBp,
	})
}
