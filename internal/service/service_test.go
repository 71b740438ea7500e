package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/auth"
	"github.com/concordmarkets/concord/internal/consensus"
	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
	"github.com/concordmarkets/concord/internal/ledger"
	"github.com/concordmarkets/concord/internal/notify"
	"github.com/concordmarkets/concord/internal/reward"
	"github.com/concordmarkets/concord/internal/settle"
	"github.com/concordmarkets/concord/internal/store/memory"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	resolver = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

// fakeMarketCache is an in-process domain.MarketCache that counts
// invalidations.
type fakeMarketCache struct {
	mu          sync.Mutex
	markets     map[int64]domain.Market
	invalidated int
}

func newFakeMarketCache() *fakeMarketCache {
	return &fakeMarketCache{markets: make(map[int64]domain.Market)}
}

func (c *fakeMarketCache) Get(ctx context.Context, id int64) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *fakeMarketCache) Set(ctx context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m
	return nil
}

func (c *fakeMarketCache) Invalidate(ctx context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	c.invalidated++
	return nil
}

// fakeConsensusCache is an in-process domain.ConsensusCache.
type fakeConsensusCache struct {
	mu      sync.Mutex
	results map[domain.FeedID]domain.ConsensusResult
}

func newFakeConsensusCache() *fakeConsensusCache {
	return &fakeConsensusCache{results: make(map[domain.FeedID]domain.ConsensusResult)}
}

func (c *fakeConsensusCache) Get(ctx context.Context, feedID domain.FeedID) (domain.ConsensusResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[feedID]
	if !ok {
		return domain.ConsensusResult{}, domain.ErrNotFound
	}
	return r, nil
}

func (c *fakeConsensusCache) Set(ctx context.Context, r domain.ConsensusResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[r.FeedID] = r
	return nil
}

// fakeBus records published payloads per channel.
type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

func (b *fakeBus) last(t *testing.T, channel string) domain.Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	payloads := b.published[channel]
	if len(payloads) == 0 {
		t.Fatalf("no events published on %s", channel)
	}
	var ev domain.Event
	if err := json.Unmarshal(payloads[len(payloads)-1], &ev); err != nil {
		t.Fatalf("unmarshal event on %s: %v", channel, err)
	}
	return ev
}

type fixture struct {
	markets    *MarketService
	settlement *SettlementService
	feeds      *FeedService
	stats      *StatsService

	mem       *memory.Store
	cache     *fakeMarketCache
	feedCache *fakeConsensusCache
	bus       *fakeBus
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	policy := auth.NewPolicy([]common.Address{admin})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := notify.NewNotifier(nil, nil, logger)

	f := &fixture{
		mem:       mem,
		cache:     newFakeMarketCache(),
		feedCache: newFakeConsensusCache(),
		bus:       newFakeBus(),
		now:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	led := ledger.New(mem, policy, fixedpoint.FromInt64(1), logger, ledger.WithClock(clock))
	eng := settle.New(mem, reward.NewCalculator(reward.DefaultFeeRateBp), led.Locks(), logger, settle.WithClock(clock))
	cons := consensus.New(mem, policy, 0, 0, logger, consensus.WithClock(clock))

	f.markets = NewMarketService(led, mem, f.cache, f.bus, notifier, logger)
	f.settlement = NewSettlementService(eng, f.bus, notifier, logger)
	f.feeds = NewFeedService(cons, f.feedCache, f.bus, logger)
	f.stats = NewStatsService(mem, logger)
	return f
}

func TestMarketLifecycleThroughServices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.markets.CreateMarket(ctx, alice, "Will BTC close above 100k on Dec 31?", f.now.Add(time.Hour), resolver)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if got := f.bus.count("events:market_created"); got != 1 {
		t.Fatalf("market_created events = %d, want 1", got)
	}

	if err := f.markets.Deposit(ctx, admin, alice, fixedpoint.FromInt64(100)); err != nil {
		t.Fatalf("Deposit alice: %v", err)
	}
	if err := f.markets.Deposit(ctx, admin, bob, fixedpoint.FromInt64(50)); err != nil {
		t.Fatalf("Deposit bob: %v", err)
	}

	if _, err := f.markets.Stake(ctx, alice, m.ID, domain.SideYes, fixedpoint.FromInt64(100)); err != nil {
		t.Fatalf("alice stake: %v", err)
	}
	if _, err := f.markets.Stake(ctx, bob, m.ID, domain.SideNo, fixedpoint.FromInt64(50)); err != nil {
		t.Fatalf("bob stake: %v", err)
	}
	if got := f.bus.count("events:stake_recorded"); got != 2 {
		t.Fatalf("stake_recorded events = %d, want 2", got)
	}

	f.now = m.Deadline.Add(time.Minute)
	settled, err := f.markets.Settle(ctx, resolver, m.ID, true)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !settled.Settled || !settled.Outcome {
		t.Fatalf("settled market = %+v, want settled YES", settled)
	}
	ev := f.bus.last(t, "events:market_settled")
	if ev.Type != domain.EventMarketSettled {
		t.Fatalf("event type = %s, want %s", ev.Type, domain.EventMarketSettled)
	}

	b, err := f.settlement.Claim(ctx, alice, m.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if want := fixedpoint.FromInt64(149); b.Payout.Cmp(want) != 0 {
		t.Fatalf("payout = %s, want %s", b.Payout, want)
	}
	if got := f.bus.count("events:reward_claimed"); got != 1 {
		t.Fatalf("reward_claimed events = %d, want 1", got)
	}

	if _, err := f.settlement.Claim(ctx, bob, m.ID); !errors.Is(err, domain.ErrLostPrediction) {
		t.Fatalf("bob claim: err = %v, want ErrLostPrediction", err)
	}
}

func TestGetMarketReadThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.markets.CreateMarket(ctx, alice, "Will it rain tomorrow?", f.now.Add(time.Hour), resolver)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	// First read misses the cache and back-fills it.
	got, err := f.markets.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.ID != m.ID {
		t.Fatalf("market id = %d, want %d", got.ID, m.ID)
	}
	if _, err := f.cache.Get(ctx, m.ID); err != nil {
		t.Fatalf("cache not back-filled: %v", err)
	}

	// A stale cached copy is served as-is until invalidated.
	staleQuestion := got.Question
	if _, err := f.markets.GetMarket(ctx, m.ID); err != nil {
		t.Fatalf("GetMarket cached: %v", err)
	}
	if got.Question != staleQuestion {
		t.Fatalf("cached question changed")
	}

	if _, err := f.markets.GetMarket(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing market: err = %v, want ErrNotFound", err)
	}
}

func TestStakeInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.markets.CreateMarket(ctx, alice, "Will it rain tomorrow?", f.now.Add(time.Hour), resolver)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := f.markets.GetMarket(ctx, m.ID); err != nil {
		t.Fatalf("GetMarket: %v", err)
	}

	if err := f.markets.Deposit(ctx, admin, alice, fixedpoint.FromInt64(10)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := f.markets.Stake(ctx, alice, m.ID, domain.SideYes, fixedpoint.FromInt64(10)); err != nil {
		t.Fatalf("Stake: %v", err)
	}

	if f.cache.invalidated == 0 {
		t.Fatal("stake did not invalidate the market cache")
	}
	// Fresh read reflects the new pool.
	got, err := f.markets.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMarket after stake: %v", err)
	}
	if want := fixedpoint.FromInt64(10); got.TotalYes.Cmp(want) != 0 {
		t.Fatalf("TotalYes = %s, want %s", got.TotalYes, want)
	}
}

func TestFailedStakePublishesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.markets.CreateMarket(ctx, alice, "Will it rain tomorrow?", f.now.Add(time.Hour), resolver)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	// No balance: the stake is rejected and nothing reaches the bus.
	if _, err := f.markets.Stake(ctx, alice, m.ID, domain.SideYes, fixedpoint.FromInt64(10)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("stake: err = %v, want ErrInsufficientBalance", err)
	}
	if got := f.bus.count("events:stake_recorded"); got != 0 {
		t.Fatalf("stake_recorded events = %d, want 0", got)
	}
}

func TestFeedServiceComputeCachesAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	feed, err := f.feeds.Register(ctx, admin, "BTC/USD", "crypto", alice, domain.MaxWeightBp)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.feeds.SubmitSample(ctx, alice, feed.ID, fixedpoint.FromInt64(100), true); err != nil {
		t.Fatalf("SubmitSample: %v", err)
	}

	r, err := f.feeds.Compute(ctx, feed.ID)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if want := fixedpoint.FromInt64(100); r.Value.Cmp(want) != 0 {
		t.Fatalf("consensus = %s, want %s", r.Value, want)
	}
	if got := f.bus.count("events:consensus_computed"); got != 1 {
		t.Fatalf("consensus_computed events = %d, want 1", got)
	}

	// Latest is served from the cache.
	cached, err := f.feedCache.Get(ctx, feed.ID)
	if err != nil {
		t.Fatalf("consensus not cached: %v", err)
	}
	latest, err := f.feeds.Latest(ctx, feed.ID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Value.Cmp(cached.Value) != 0 {
		t.Fatalf("Latest = %s, cache holds %s", latest.Value, cached.Value)
	}
}

func TestStatsOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.markets.CreateMarket(ctx, alice, "Will it rain tomorrow?", f.now.Add(time.Hour), resolver)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := f.markets.CreateMarket(ctx, bob, "Will ETH close above 10k?", f.now.Add(2*time.Hour), resolver); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if err := f.markets.Deposit(ctx, admin, alice, fixedpoint.FromInt64(30)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := f.markets.Stake(ctx, alice, m.ID, domain.SideYes, fixedpoint.FromInt64(30)); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if _, err := f.feeds.Register(ctx, admin, "BTC/USD", "crypto", alice, domain.MaxWeightBp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	f.now = m.Deadline.Add(time.Minute)
	if _, err := f.markets.Settle(ctx, resolver, m.ID, true); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	stats, err := f.stats.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if stats.Markets != 2 || stats.SettledMarkets != 1 || stats.OpenMarkets != 1 {
		t.Fatalf("stats = %+v, want 2 markets, 1 settled", stats)
	}
	if stats.TotalStaked != "30" {
		t.Fatalf("TotalStaked = %s, want 30", stats.TotalStaked)
	}
	if stats.Feeds != 1 || stats.ActiveFeeds != 1 {
		t.Fatalf("stats feeds = %+v, want 1 active feed", stats)
	}

	events, err := f.stats.Activity(ctx, 3)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("activity events = %d, want 3", len(events))
	}
	if events[0].Type != domain.EventMarketSettled {
		t.Fatalf("newest event = %s, want %s", events[0].Type, domain.EventMarketSettled)
	}
}
