package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/service"
)

// StatsService defines what the stats handler needs from the service layer.
type StatsService interface {
	Overview(ctx context.Context) (service.PlatformStats, error)
	Activity(ctx context.Context, limit int) ([]domain.Event, error)
}

// StatsHandler serves platform-wide stats and the activity stream.
type StatsHandler struct {
	stats  StatsService
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(stats StatsService, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  stats,
		logger: logger,
	}
}

// Overview returns current platform stats.
// GET /api/markets/stats
func (h *StatsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Overview(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: stats overview failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Activity returns the newest audit events across all entities.
// GET /api/activity?limit=50
func (h *StatsHandler) Activity(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	events, err := h.stats.Activity(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: activity failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list activity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": toEventResponses(events),
	})
}
