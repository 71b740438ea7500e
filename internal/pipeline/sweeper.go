package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/notify"
)

// ExpirySweeper periodically lists markets whose deadline has passed without
// settlement and alerts operators. It never settles a market itself; that is
// the resolver's call.
type ExpirySweeper struct {
	markets  domain.MarketStore
	notifier *notify.Notifier
	cronExpr string
	logger   *slog.Logger

	// alerted remembers markets already reported this process lifetime so a
	// slow resolver is not paged every five minutes.
	alerted map[int64]bool
}

// NewExpirySweeper creates an ExpirySweeper running on the given 5-field cron
// schedule.
func NewExpirySweeper(markets domain.MarketStore, notifier *notify.Notifier, cronExpr string, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		markets:  markets,
		notifier: notifier,
		cronExpr: cronExpr,
		logger:   logger.With(slog.String("component", "expiry_sweeper")),
		alerted:  make(map[int64]bool),
	}
}

// Run executes the sweep on the cron schedule until the context is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	schedule, err := cron.ParseStandard(s.cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: parse expiry sweep cron %q: %w", s.cronExpr, err)
	}

	s.logger.InfoContext(ctx, "pipeline: expiry sweeper started",
		slog.String("cron", s.cronExpr),
	)

	return runOnSchedule(ctx, schedule, s.logger, func(ctx context.Context) {
		if err := s.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "pipeline: expiry sweep failed",
				slog.String("error", err.Error()),
			)
		}
	})
}

// Sweep performs a single pass over expired unsettled markets.
func (s *ExpirySweeper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	markets, err := s.markets.ListExpiredUnsettled(ctx, now)
	if err != nil {
		return fmt.Errorf("pipeline: list expired markets: %w", err)
	}
	if len(markets) == 0 {
		return nil
	}

	fresh := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if !s.alerted[m.ID] {
			fresh = append(fresh, m)
		}
	}

	s.logger.WarnContext(ctx, "pipeline: expired markets awaiting settlement",
		slog.Int("count", len(markets)),
		slog.Int("new", len(fresh)),
	)

	if len(fresh) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d market(s) past deadline without settlement:\n", len(fresh))
	for _, m := range fresh {
		fmt.Fprintf(&b, "- #%d %q (deadline %s, resolver %s)\n",
			m.ID, m.Question, m.Deadline.Format(time.RFC3339), m.Resolver.Hex())
		s.alerted[m.ID] = true
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, "market_expired", "Markets Awaiting Settlement", b.String()); err != nil {
			s.logger.WarnContext(ctx, "pipeline: expiry notification failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
