package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
)

// BalanceService defines what the balance handler needs from the service
// layer.
type BalanceService interface {
	Deposit(ctx context.Context, actor common.Address, user common.Address, amount *big.Int) error
	Balance(ctx context.Context, user common.Address) (*big.Int, error)
	ListStakesByUser(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Stake, error)
}

// BalanceHandler serves user balance endpoints.
type BalanceHandler struct {
	balances BalanceService
	logger   *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler.
func NewBalanceHandler(balances BalanceService, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{
		balances: balances,
		logger:   logger,
	}
}

type depositRequest struct {
	Amount string `json:"amount"`
}

// Deposit credits a user's balance. Admin only.
// POST /api/balances/{user}/deposit
func (h *BalanceHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, err := actor(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	user, err := parseAddress(r.PathValue("user"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.balances.Deposit(r.Context(), caller, user, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   user.Hex(),
		"amount": fixedpoint.Format(amount),
	})
}

// GetBalance returns a user's spendable balance.
// GET /api/balances/{user}
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(r.PathValue("user"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	bal, err := h.balances.Balance(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    user.Hex(),
		"balance": fixedpoint.Format(bal),
	})
}

// ListStakes returns a user's stakes across markets.
// GET /api/balances/{user}/stakes
func (h *BalanceHandler) ListStakes(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(r.PathValue("user"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stakes, err := h.balances.ListStakesByUser(r.Context(), user, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   user.Hex(),
		"stakes": toStakeResponses(stakes),
	})
}
