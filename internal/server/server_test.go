package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/auth"
	memcache "github.com/concordmarkets/concord/internal/cache/memory"
	"github.com/concordmarkets/concord/internal/consensus"
	"github.com/concordmarkets/concord/internal/crypto"
	"github.com/concordmarkets/concord/internal/fixedpoint"
	"github.com/concordmarkets/concord/internal/ledger"
	"github.com/concordmarkets/concord/internal/notify"
	"github.com/concordmarkets/concord/internal/reward"
	"github.com/concordmarkets/concord/internal/server/handler"
	"github.com/concordmarkets/concord/internal/service"
	"github.com/concordmarkets/concord/internal/settle"
	"github.com/concordmarkets/concord/internal/store/memory"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	resolver = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

// testClock is a mutable time source shared by all engines in a fixture.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestServer stands up the full API over the in-memory store.
func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *testClock) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{now: time.Now().UTC()}

	mem := memory.New()
	policy := auth.NewPolicy([]common.Address{admin})
	bus := memcache.NewBus()
	notifier := notify.NewNotifier(nil, nil, logger)

	led := ledger.New(mem, policy, fixedpoint.FromInt64(1), logger, ledger.WithClock(clock.Now))
	settleEngine := settle.New(mem, reward.NewCalculator(200), led.Locks(), logger, settle.WithClock(clock.Now))
	consensusEngine := consensus.New(mem, policy, 0, 0, logger, consensus.WithClock(clock.Now))

	marketSvc := service.NewMarketService(led, mem, memcache.NewMarketCache(), bus, notifier, logger)
	settlementSvc := service.NewSettlementService(settleEngine, bus, notifier, logger)
	feedSvc := service.NewFeedService(consensusEngine, memcache.NewConsensusCache(), bus, logger)
	statsSvc := service.NewStatsService(mem, logger)

	handlers := Handlers{
		Health:     handler.NewHealthHandler(logger),
		Markets:    handler.NewMarketHandler(marketSvc, logger),
		Settlement: handler.NewSettlementHandler(settlementSvc, logger),
		Feeds:      handler.NewFeedHandler(feedSvc, logger),
		Balances:   handler.NewBalanceHandler(marketSvc, logger),
		Stats:      handler.NewStatsHandler(statsSvc, logger),
	}

	srv := NewServer(cfg, handlers, nil, nil, logger)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, clock
}

// call sends a JSON request and decodes the JSON response body.
func call(t *testing.T, ts *httptest.Server, method, path string, actor common.Address, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if actor != (common.Address{}) {
		req.Header.Set("X-Actor", actor.Hex())
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("%s %s: invalid JSON response %q", method, path, raw)
		}
	}
	return resp.StatusCode, decoded
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	ts, clock := newTestServer(t, Config{})

	// Create a market expiring in an hour.
	status, created := call(t, ts, http.MethodPost, "/api/markets", admin, map[string]any{
		"question": "Will BTC close above 100k?",
		"deadline": clock.Now().Add(time.Hour).Format(time.RFC3339),
		"resolver": resolver.Hex(),
	})
	if status != http.StatusCreated {
		t.Fatalf("create market status = %d: %v", status, created)
	}
	id := fmt.Sprintf("%.0f", created["id"].(float64))

	// Fund both participants.
	for user, amount := range map[common.Address]string{alice: "100", bob: "50"} {
		status, body := call(t, ts, http.MethodPost, "/api/balances/"+user.Hex()+"/deposit", admin, map[string]any{
			"amount": amount,
		})
		if status != http.StatusOK {
			t.Fatalf("deposit status = %d: %v", status, body)
		}
	}

	// Alice stakes yes, bob stakes no.
	if status, body := call(t, ts, http.MethodPost, "/api/markets/"+id+"/stake", alice, map[string]any{
		"side": "yes", "amount": "100",
	}); status != http.StatusCreated {
		t.Fatalf("alice stake status = %d: %v", status, body)
	}
	if status, body := call(t, ts, http.MethodPost, "/api/markets/"+id+"/stake", bob, map[string]any{
		"side": "no", "amount": "50",
	}); status != http.StatusCreated {
		t.Fatalf("bob stake status = %d: %v", status, body)
	}

	// Implied odds follow the pools: 100 yes vs 50 no.
	status, odds := call(t, ts, http.MethodGet, "/api/markets/"+id+"/odds", common.Address{}, nil)
	if status != http.StatusOK {
		t.Fatalf("odds status = %d: %v", status, odds)
	}
	if got := odds["yes_bp"].(float64); got != 6666 {
		t.Errorf("yes_bp = %v, want 6666", got)
	}
	if got := odds["no_bp"].(float64); got != 3334 {
		t.Errorf("no_bp = %v, want 3334", got)
	}

	// Settling before expiry is rejected.
	if status, _ := call(t, ts, http.MethodPost, "/api/markets/"+id+"/settle", resolver, map[string]any{
		"outcome": true,
	}); status != http.StatusConflict {
		t.Fatalf("early settle status = %d, want 409", status)
	}

	clock.Advance(2 * time.Hour)

	status, settled := call(t, ts, http.MethodPost, "/api/markets/"+id+"/settle", resolver, map[string]any{
		"outcome": true,
	})
	if status != http.StatusOK {
		t.Fatalf("settle status = %d: %v", status, settled)
	}
	if settled["outcome"] != true {
		t.Fatalf("outcome = %v, want true", settled["outcome"])
	}

	// Winner collects stake plus the losing pool less the 2% fee: 100 + 49.
	status, claim := call(t, ts, http.MethodPost, "/api/markets/"+id+"/claim", alice, nil)
	if status != http.StatusOK {
		t.Fatalf("claim status = %d: %v", status, claim)
	}
	if claim["payout"] != "149" {
		t.Errorf("payout = %v, want 149", claim["payout"])
	}

	// Loser gets 422.
	if status, _ := call(t, ts, http.MethodPost, "/api/markets/"+id+"/claim", bob, nil); status != http.StatusUnprocessableEntity {
		t.Fatalf("loser claim status = %d, want 422", status)
	}

	// Stats reflect the settled market.
	status, stats := call(t, ts, http.MethodGet, "/api/markets/stats", common.Address{}, nil)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d: %v", status, stats)
	}
	if got := stats["settled_markets"].(float64); got != 1 {
		t.Errorf("settled_markets = %v, want 1", got)
	}
	if stats["total_staked"] != "150" {
		t.Errorf("total_staked = %v, want 150", stats["total_staked"])
	}
}

func TestFeedConsensusOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	status, feed := call(t, ts, http.MethodPost, "/api/feeds", admin, map[string]any{
		"name":      "BTC/USD",
		"category":  "crypto",
		"source":    alice.Hex(),
		"weight_bp": 10000,
	})
	if status != http.StatusCreated {
		t.Fatalf("register status = %d: %v", status, feed)
	}
	id := feed["id"].(string)

	if status, body := call(t, ts, http.MethodPost, "/api/feeds/"+id+"/samples", alice, map[string]any{
		"price": "67000",
	}); status != http.StatusCreated {
		t.Fatalf("sample status = %d: %v", status, body)
	}

	status, result := call(t, ts, http.MethodPost, "/api/feeds/"+id+"/consensus", common.Address{}, nil)
	if status != http.StatusOK {
		t.Fatalf("compute status = %d: %v", status, result)
	}
	if result["value"] != "67000" {
		t.Errorf("value = %v, want 67000", result["value"])
	}

	status, latest := call(t, ts, http.MethodGet, "/api/feeds/"+id+"/consensus", common.Address{}, nil)
	if status != http.StatusOK {
		t.Fatalf("latest status = %d: %v", status, latest)
	}
	if latest["value"] != "67000" {
		t.Errorf("latest value = %v, want 67000", latest["value"])
	}
}

func TestRequestValidationOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	if status, _ := call(t, ts, http.MethodGet, "/api/markets/abc", common.Address{}, nil); status != http.StatusBadRequest {
		t.Errorf("bad market id status = %d, want 400", status)
	}
	if status, _ := call(t, ts, http.MethodGet, "/api/markets/999", common.Address{}, nil); status != http.StatusNotFound {
		t.Errorf("unknown market status = %d, want 404", status)
	}
	// Mutations need the X-Actor header.
	if status, _ := call(t, ts, http.MethodPost, "/api/markets", common.Address{}, map[string]any{
		"question": "?", "deadline": time.Now().Add(time.Hour).Format(time.RFC3339), "resolver": resolver.Hex(),
	}); status != http.StatusBadRequest {
		t.Errorf("missing actor status = %d, want 400", status)
	}
	// Non-admin cannot create markets.
	if status, _ := call(t, ts, http.MethodPost, "/api/markets", alice, map[string]any{
		"question": "?", "deadline": time.Now().Add(time.Hour).Format(time.RFC3339), "resolver": resolver.Hex(),
	}); status != http.StatusForbidden {
		t.Errorf("non-admin create status = %d, want 403", status)
	}
}

func TestAPIKeyAuthOverHTTP(t *testing.T) {
	hash, err := crypto.HashAPIKey("test-key")
	if err != nil {
		t.Fatal(err)
	}
	ts, _ := newTestServer(t, Config{
		APIKeyHashes: map[string]string{admin.Hex(): hash},
	})

	// Health stays open.
	if status, _ := call(t, ts, http.MethodGet, "/api/health", common.Address{}, nil); status != http.StatusOK {
		t.Errorf("health status = %d, want 200", status)
	}

	// Everything else requires a key.
	if status, _ := call(t, ts, http.MethodGet, "/api/markets", common.Address{}, nil); status != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", status)
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/markets", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer test-key")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}
}
