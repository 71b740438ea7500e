package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
)

// PlatformStats is a point-in-time summary of the platform.
type PlatformStats struct {
	Markets        int64  `json:"markets"`
	OpenMarkets    int64  `json:"open_markets"`
	SettledMarkets int64  `json:"settled_markets"`
	TotalStaked    string `json:"total_staked"`
	Feeds          int    `json:"feeds"`
	ActiveFeeds    int    `json:"active_feeds"`
}

// StatsService aggregates platform-wide figures and the recent activity
// stream for dashboards.
type StatsService struct {
	stores domain.Stores
	logger *slog.Logger
}

// NewStatsService creates a StatsService.
func NewStatsService(stores domain.Stores, logger *slog.Logger) *StatsService {
	return &StatsService{stores: stores, logger: logger}
}

// Overview computes current platform stats. Totals are summed over the full
// market list; at dashboard refresh rates that is cheap enough.
func (s *StatsService) Overview(ctx context.Context) (PlatformStats, error) {
	count, err := s.stores.Markets().Count(ctx)
	if err != nil {
		return PlatformStats{}, fmt.Errorf("stats_service: count markets: %w", err)
	}

	markets, err := s.stores.Markets().List(ctx, domain.ListOpts{})
	if err != nil {
		return PlatformStats{}, fmt.Errorf("stats_service: list markets: %w", err)
	}

	total := new(big.Int)
	var settled int64
	for _, m := range markets {
		total.Add(total, m.TotalYes)
		total.Add(total, m.TotalNo)
		if m.Settled {
			settled++
		}
	}

	feeds, err := s.stores.Feeds().List(ctx)
	if err != nil {
		return PlatformStats{}, fmt.Errorf("stats_service: list feeds: %w", err)
	}
	active := 0
	for _, f := range feeds {
		if f.Active {
			active++
		}
	}

	return PlatformStats{
		Markets:        count,
		OpenMarkets:    count - settled,
		SettledMarkets: settled,
		TotalStaked:    fixedpoint.Format(total),
		Feeds:          len(feeds),
		ActiveFeeds:    active,
	}, nil
}

// Activity returns the newest audit events across all entities.
func (s *StatsService) Activity(ctx context.Context, limit int) ([]domain.Event, error) {
	events, err := s.stores.Audit().ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("stats_service: recent activity: %w", err)
	}
	return events, nil
}
