package feedsource

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/concordmarkets/concord/internal/domain"
)

// FeedWriter is the slice of the feed service the poller uses.
type FeedWriter interface {
	Register(ctx context.Context, actor common.Address, name, category string, source common.Address, weightBp int64) (domain.Feed, error)
	SubmitSample(ctx context.Context, actor common.Address, id domain.FeedID, price *big.Int, valid bool) (domain.FeedSample, error)
}

// Poller fetches quotes from every source on a fixed interval and submits
// them as samples under the reporter address. Feeds are registered lazily,
// by the registrar (an admin), the first time a quote for them appears.
type Poller struct {
	sources   []Source
	feeds     FeedWriter
	registrar common.Address
	reporter  common.Address
	interval  time.Duration
	logger    *slog.Logger

	mu         sync.Mutex
	registered map[domain.FeedID]bool
}

// NewPoller creates a Poller.
func NewPoller(
	sources []Source,
	feeds FeedWriter,
	registrar common.Address,
	reporter common.Address,
	interval time.Duration,
	logger *slog.Logger,
) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		sources:    sources,
		feeds:      feeds,
		registrar:  registrar,
		reporter:   reporter,
		interval:   interval,
		logger:     logger.With(slog.String("component", "feed_poller")),
		registered: make(map[domain.FeedID]bool),
	}
}

// Run polls until the context is cancelled. The first poll happens
// immediately; subsequent polls follow the interval.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "feedsource: poller started",
		slog.Int("sources", len(p.sources)),
		slog.Duration("interval", p.interval),
	)

	p.pollAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "feedsource: poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

// pollAll fetches every source concurrently. A failing source never stops
// the others; its error is logged and the next tick retries.
func (p *Poller) pollAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range p.sources {
		g.Go(func() error {
			if err := p.poll(ctx, src); err != nil {
				p.logger.WarnContext(ctx, "feedsource: poll failed",
					slog.String("source", src.Name()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) poll(ctx context.Context, src Source) error {
	quotes, err := src.Fetch(ctx)
	if err != nil {
		return err
	}

	submitted := 0
	for _, q := range quotes {
		id := domain.NewFeedID(q.Name, q.Category)
		if err := p.ensureRegistered(ctx, id, q); err != nil {
			p.logger.WarnContext(ctx, "feedsource: register feed failed",
				slog.String("feed", q.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, err := p.feeds.SubmitSample(ctx, p.reporter, id, q.Price, true); err != nil {
			p.logger.WarnContext(ctx, "feedsource: submit sample failed",
				slog.String("feed", q.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		submitted++
	}

	p.logger.DebugContext(ctx, "feedsource: poll complete",
		slog.String("source", src.Name()),
		slog.Int("quotes", len(quotes)),
		slog.Int("submitted", submitted),
	)
	return nil
}

// ensureRegistered enrolls the reporter on the feed once per process
// lifetime. Registration is idempotent on the server side; the local set
// only avoids repeating the call every tick.
func (p *Poller) ensureRegistered(ctx context.Context, id domain.FeedID, q Quote) error {
	p.mu.Lock()
	done := p.registered[id]
	p.mu.Unlock()
	if done {
		return nil
	}

	if _, err := p.feeds.Register(ctx, p.registrar, q.Name, q.Category, p.reporter, domain.MaxWeightBp); err != nil {
		return err
	}

	p.mu.Lock()
	p.registered[id] = true
	p.mu.Unlock()
	return nil
}
