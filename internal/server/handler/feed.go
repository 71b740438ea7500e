package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
)

// FeedService defines what the feed handler needs from the service layer.
type FeedService interface {
	Register(ctx context.Context, actor common.Address, name, category string, source common.Address, weightBp int64) (domain.Feed, error)
	Deactivate(ctx context.Context, actor common.Address, id domain.FeedID) error
	SetWeight(ctx context.Context, actor common.Address, id domain.FeedID, source common.Address, weightBp int64) error
	SubmitSample(ctx context.Context, actor common.Address, id domain.FeedID, price *big.Int, valid bool) (domain.FeedSample, error)
	Compute(ctx context.Context, id domain.FeedID) (domain.ConsensusResult, error)
	Latest(ctx context.Context, id domain.FeedID) (domain.ConsensusResult, error)
	GetFeed(ctx context.Context, id domain.FeedID) (domain.Feed, error)
	ListFeeds(ctx context.Context) ([]domain.Feed, error)
	ListSources(ctx context.Context, id domain.FeedID) ([]domain.FeedSource, error)
}

// FeedHandler serves feed registry and consensus endpoints.
type FeedHandler struct {
	feeds  FeedService
	logger *slog.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(feeds FeedService, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{
		feeds:  feeds,
		logger: logger,
	}
}

type registerFeedRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Source   string `json:"source"`
	WeightBp int64  `json:"weight_bp"`
}

// Register creates a feed if needed and enrolls a reporter on it.
// POST /api/feeds
func (h *FeedHandler) Register(w http.ResponseWriter, r *http.Request) {
	caller, err := actor(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req registerFeedRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	source, err := parseAddress(req.Source)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	f, err := h.feeds.Register(r.Context(), caller, req.Name, req.Category, source, req.WeightBp)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFeedResponse(f))
}

// ListFeeds returns every registered feed.
// GET /api/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.feeds.ListFeeds(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list feeds failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list feeds")
		return
	}

	out := make([]feedResponse, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, toFeedResponse(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": out})
}

// GetFeed returns one feed and its reporters.
// GET /api/feeds/{id}
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	id, err := feedID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	f, err := h.feeds.GetFeed(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sources, err := h.feeds.ListSources(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"feed":    toFeedResponse(f),
		"sources": toSourceResponses(sources),
	})
}

// Deactivate stops a feed from accepting samples.
// POST /api/feeds/{id}/deactivate
func (h *FeedHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	caller, err := actor(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	id, err := feedID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.feeds.Deactivate(r.Context(), caller, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feed_id": id.Hex(),
		"active":  false,
	})
}

type setWeightRequest struct {
	// Source is optional; when absent the weight applies to every reporter.
	Source   string `json:"source,omitempty"`
	WeightBp int64  `json:"weight_bp"`
}

// SetWeight updates reporter weights on a feed.
// PUT /api/feeds/{id}/weight
func (h *FeedHandler) SetWeight(w http.ResponseWriter, r *http.Request) {
	caller, err := actor(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	id, err := feedID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req setWeightRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	var source common.Address
	if req.Source != "" {
		source, err = parseAddress(req.Source)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}

	if err := h.feeds.SetWeight(r.Context(), caller, id, source, req.WeightBp); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feed_id":   id.Hex(),
		"weight_bp": req.WeightBp,
	})
}

type submitSampleRequest struct {
	Price string `json:"price"`
	Valid *bool  `json:"valid,omitempty"`
}

// SubmitSample records a reporter's latest observation for a feed.
// POST /api/feeds/{id}/samples
func (h *FeedHandler) SubmitSample(w http.ResponseWriter, r *http.Request) {
	caller, err := actor(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	id, err := feedID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req submitSampleRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	valid := true
	if req.Valid != nil {
		valid = *req.Valid
	}

	sample, err := h.feeds.SubmitSample(r.Context(), caller, id, price, valid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"feed_id":   sample.FeedID.Hex(),
		"source":    sample.Source.Hex(),
		"valid":     sample.Valid,
		"timestamp": sample.Timestamp,
	})
}

// Compute aggregates current samples into a fresh consensus value.
// POST /api/feeds/{id}/consensus
func (h *FeedHandler) Compute(w http.ResponseWriter, r *http.Request) {
	id, err := feedID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.feeds.Compute(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsensusResponse(result))
}

// Latest returns the most recent consensus for a feed.
// GET /api/feeds/{id}/consensus
func (h *FeedHandler) Latest(w http.ResponseWriter, r *http.Request) {
	id, err := feedID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.feeds.Latest(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsensusResponse(result))
}
