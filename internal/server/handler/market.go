package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
)

// MarketService defines what the market handler needs from the service layer.
type MarketService interface {
	CreateMarket(ctx context.Context, actor common.Address, question string, deadline time.Time, resolver common.Address) (domain.Market, error)
	GetMarket(ctx context.Context, id int64) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Stake(ctx context.Context, actor common.Address, marketID int64, side domain.Side, amount *big.Int) (domain.Stake, error)
	Settle(ctx context.Context, actor common.Address, marketID int64, outcome bool) (domain.Market, error)
	SetConfidence(ctx context.Context, actor common.Address, marketID int64, value int) error
	GetStake(ctx context.Context, marketID int64, user common.Address) (domain.Stake, error)
	ListStakesByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.Stake, error)
	MarketActivity(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.Event, error)
}

// MarketHandler serves market lifecycle endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

type createMarketRequest struct {
	Question string    `json:"question"`
	Deadline time.Time `json:"deadline"`
	Resolver string    `json:"resolver"`
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, err := actor(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	resolver, err := parseAddress(req.Resolver)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), caller, req.Question, req.Deadline, resolver)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarketResponse(m))
}

type listMarketsResponse struct {
	Markets []marketResponse `json:"markets"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListMarkets returns markets, newest first.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: toMarketResponses(markets),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns one market by id.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

type stakeRequest struct {
	Side   string `json:"side"`
	Amount string `json:"amount"`
}

// Stake places a stake on one side of a market.
// POST /api/markets/{id}/stake
func (h *MarketHandler) Stake(w http.ResponseWriter, r *http.Request) {
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

	var req stakeRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	st, err := h.markets.Stake(r.Context(), caller, id, domain.Side(req.Side), amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStakeResponse(st))
}

type settleRequest struct {
	Outcome bool `json:"outcome"`
}

// Settle fixes a market's outcome.
// POST /api/markets/{id}/settle
func (h *MarketHandler) Settle(w http.ResponseWriter, r *http.Request) {
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

	var req settleRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	m, err := h.markets.Settle(r.Context(), caller, id, req.Outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

type confidenceRequest struct {
	Confidence int `json:"confidence"`
}

// SetConfidence updates a market's confidence annotation.
// PUT /api/markets/{id}/confidence
func (h *MarketHandler) SetConfidence(w http.ResponseWriter, r *http.Request) {
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

	var req confidenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.markets.SetConfidence(r.Context(), caller, id, req.Confidence); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":  id,
		"confidence": req.Confidence,
	})
}

// GetStake returns one user's stake on a market.
// GET /api/markets/{id}/stakes/{user}
func (h *MarketHandler) GetStake(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	user, err := parseAddress(r.PathValue("user"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	st, err := h.markets.GetStake(r.Context(), id, user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStakeResponse(st))
}

// ListStakes returns a market's stakes.
// GET /api/markets/{id}/stakes
func (h *MarketHandler) ListStakes(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stakes, err := h.markets.ListStakesByMarket(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"stakes":    toStakeResponses(stakes),
	})
}

// Activity returns a market's audit trail, newest first.
// GET /api/markets/{id}/activity
func (h *MarketHandler) Activity(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	events, err := h.markets.MarketActivity(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"events":    toEventResponses(events),
	})
}
