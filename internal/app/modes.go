package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/concordmarkets/concord/internal/auth"
	"github.com/concordmarkets/concord/internal/confidence"
	"github.com/concordmarkets/concord/internal/consensus"
	"github.com/concordmarkets/concord/internal/feedsource"
	"github.com/concordmarkets/concord/internal/fixedpoint"
	"github.com/concordmarkets/concord/internal/ledger"
	"github.com/concordmarkets/concord/internal/pipeline"
	"github.com/concordmarkets/concord/internal/reward"
	"github.com/concordmarkets/concord/internal/server"
	"github.com/concordmarkets/concord/internal/server/handler"
	"github.com/concordmarkets/concord/internal/server/ws"
	"github.com/concordmarkets/concord/internal/service"
	"github.com/concordmarkets/concord/internal/settle"
)

// services bundles the application services shared by the HTTP server and
// the background jobs.
type services struct {
	markets    *service.MarketService
	settlement *service.SettlementService
	feeds      *service.FeedService
	stats      *service.StatsService
}

// buildServices constructs the engines and services on top of the wired
// dependencies.
func (a *App) buildServices(deps *Dependencies) (*services, error) {
	minStake, err := fixedpoint.Parse(a.cfg.Market.MinStake)
	if err != nil {
		return nil, fmt.Errorf("app: parse market.min_stake %q: %w", a.cfg.Market.MinStake, err)
	}

	policy := auth.NewPolicy(a.cfg.AdminAddresses())
	estimator := confidence.New()

	led := ledger.New(deps.UOW, policy, minStake, a.logger,
		ledger.WithScorer(estimator.Score),
	)
	settleEngine := settle.New(deps.UOW, reward.NewCalculator(a.cfg.Market.FeeRateBp), led.Locks(), a.logger)
	consensusEngine := consensus.New(deps.UOW, policy,
		a.cfg.Consensus.Staleness.Duration,
		a.cfg.Consensus.OutlierBp,
		a.logger,
	)

	return &services{
		markets:    service.NewMarketService(led, deps.Stores, deps.MarketCache, deps.Bus, deps.Notifier, a.logger),
		settlement: service.NewSettlementService(settleEngine, deps.Bus, deps.Notifier, a.logger),
		feeds:      service.NewFeedService(consensusEngine, deps.ConsensusCache, deps.Bus, a.logger),
		stats:      service.NewStatsService(deps.Stores, a.logger),
	}, nil
}

// ServerMode runs the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// PipelineMode runs only the background jobs: feed polling, consensus
// refreshing, expiry sweeping and audit archival.
func (a *App) PipelineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting pipeline mode")

	if !a.cfg.Pipeline.Enabled {
		a.logger.WarnContext(ctx, "pipeline.enabled is false, but pipeline mode always runs the jobs")
	}

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	return a.buildOrchestrator(deps, svcs).Run(ctx)
}

// DevMode runs the API against the in-memory store, for local development
// without postgres, redis or object storage.
func (a *App) DevMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dev mode (in-memory store, state is not persisted)")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)

	// The refresher keeps consensus values current for locally submitted
	// samples; the cron jobs stay off in dev.
	refresher := pipeline.NewConsensusRefresher(svcs.feeds, a.cfg.Consensus.RefreshInterval.Duration, a.logger)
	g.Go(func() error {
		err := refresher.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("consensus refresher: %w", err)
	})

	return g.Wait()
}

// FullMode runs the API and all background jobs in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)

	if a.cfg.Pipeline.Enabled {
		orch := a.buildOrchestrator(deps, svcs)
		g.Go(func() error {
			err := orch.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return err
		})
	} else {
		a.logger.InfoContext(ctx, "pipeline.enabled is false, background jobs are off")
	}

	return g.Wait()
}

// startHTTPServer adds the WebSocket hub and HTTP server goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "server.enabled is false, API is off")
		return
	}

	hub := ws.NewHub(deps.Bus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("ws hub: %w", err)
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Markets:    handler.NewMarketHandler(svcs.markets, a.logger),
		Settlement: handler.NewSettlementHandler(svcs.settlement, a.logger),
		Feeds:      handler.NewFeedHandler(svcs.feeds, a.logger),
		Balances:   handler.NewBalanceHandler(svcs.markets, a.logger),
		Stats:      handler.NewStatsHandler(svcs.stats, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKeyHashes: a.cfg.Auth.ApiKeys,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		ReadTimeout:  a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		grace := a.cfg.Server.ShutdownGrace.Duration
		if grace <= 0 {
			grace = 10 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// buildOrchestrator assembles the background jobs that apply to the current
// configuration.
func (a *App) buildOrchestrator(deps *Dependencies, svcs *services) *pipeline.Orchestrator {
	var poller *feedsource.Poller
	if a.cfg.Feeds.Enabled {
		timeout := a.cfg.Feeds.RequestTimeout.Duration
		var sources []feedsource.Source
		if len(a.cfg.Feeds.CoingeckoCoins) > 0 {
			sources = append(sources, feedsource.NewCoingeckoSource(
				a.cfg.Feeds.CoingeckoHost, a.cfg.Feeds.CoingeckoCoins, timeout,
			))
		}
		if len(a.cfg.Feeds.FiatSymbols) > 0 {
			sources = append(sources, feedsource.NewExchangeRateSource(
				a.cfg.Feeds.ExchangeRateHost, a.cfg.Feeds.ExchangeRateBase,
				a.cfg.Feeds.FiatSymbols, timeout,
			))
		}

		admins := a.cfg.AdminAddresses()
		if len(sources) > 0 && len(admins) > 0 {
			poller = feedsource.NewPoller(
				sources,
				svcs.feeds,
				admins[0],
				common.HexToAddress(a.cfg.Feeds.ReporterAddress),
				a.cfg.Feeds.PollInterval.Duration,
				a.logger,
			)
		}
	}

	refresher := pipeline.NewConsensusRefresher(svcs.feeds, a.cfg.Consensus.RefreshInterval.Duration, a.logger)
	sweeper := pipeline.NewExpirySweeper(deps.Stores.Markets(), deps.Notifier, a.cfg.Pipeline.ExpirySweepCron, a.logger)

	var archiver *pipeline.AuditArchiver
	if deps.Archiver != nil {
		archiver = pipeline.NewAuditArchiver(
			deps.Archiver,
			a.cfg.Pipeline.ArchiveRetentionDays,
			a.cfg.Pipeline.ArchiveCron,
			a.logger,
		)
		if deps.Locks != nil {
			archiver = archiver.WithLock(deps.Locks)
		}
	}

	return pipeline.NewOrchestrator(poller, refresher, sweeper, archiver, a.logger)
}
