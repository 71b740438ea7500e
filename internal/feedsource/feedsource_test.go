package feedsource

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCoingeckoFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/simple/price" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bitcoin":{"usd":67231.12},"ethereum":{"usd":3500}}`))
	}))
	defer srv.Close()

	src := NewCoingeckoSource(srv.URL, []string{"bitcoin", "ethereum"}, time.Second)
	quotes, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("quotes = %d, want 2", len(quotes))
	}

	if quotes[0].Name != "BTC/USD" || quotes[0].Category != "crypto" {
		t.Fatalf("quote = %s/%s, want BTC/USD crypto", quotes[0].Name, quotes[0].Category)
	}
	want, _ := fixedpoint.Parse("67231.12")
	if quotes[0].Price.Cmp(want) != 0 {
		t.Fatalf("BTC price = %s, want %s", quotes[0].Price, want)
	}
	if quotes[1].Name != "ETH/USD" {
		t.Fatalf("second quote = %s, want ETH/USD", quotes[1].Name)
	}
}

func TestCoingeckoFetchSkipsMissingCoins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bitcoin":{"usd":1000}}`))
	}))
	defer srv.Close()

	src := NewCoingeckoSource(srv.URL, []string{"bitcoin", "unknown-coin"}, time.Second)
	quotes, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("quotes = %d, want 1", len(quotes))
	}
}

func TestCoingeckoFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewCoingeckoSource(srv.URL, []string{"bitcoin"}, time.Second)
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("expected error on 429 response")
	}
}

func TestExchangeRateFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v6/latest/USD" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"result":"success","rates":{"EUR":0.92,"GBP":0.79,"JPY":147.3}}`))
	}))
	defer srv.Close()

	src := NewExchangeRateSource(srv.URL, "usd", []string{"eur", "gbp"}, time.Second)
	quotes, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("quotes = %d, want 2", len(quotes))
	}
	if quotes[0].Name != "USD/EUR" || quotes[0].Category != "fiat" {
		t.Fatalf("quote = %s/%s, want USD/EUR fiat", quotes[0].Name, quotes[0].Category)
	}
	want, _ := fixedpoint.Parse("0.92")
	if quotes[0].Price.Cmp(want) != 0 {
		t.Fatalf("EUR rate = %s, want %s", quotes[0].Price, want)
	}
}

func TestExchangeRateFetchFailureResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"error","rates":{}}`))
	}))
	defer srv.Close()

	src := NewExchangeRateSource(srv.URL, "USD", []string{"EUR"}, time.Second)
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("expected error on non-success result")
	}
}

// stubFeedWriter records registrations and submissions.
type stubFeedWriter struct {
	mu         sync.Mutex
	registered map[domain.FeedID]int
	samples    map[domain.FeedID]int
}

func newStubFeedWriter() *stubFeedWriter {
	return &stubFeedWriter{
		registered: make(map[domain.FeedID]int),
		samples:    make(map[domain.FeedID]int),
	}
}

func (f *stubFeedWriter) Register(ctx context.Context, actor common.Address, name, category string, source common.Address, weightBp int64) (domain.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := domain.NewFeedID(name, category)
	f.registered[id]++
	return domain.Feed{ID: id, Name: name, Category: category, Active: true}, nil
}

func (f *stubFeedWriter) SubmitSample(ctx context.Context, actor common.Address, id domain.FeedID, price *big.Int, valid bool) (domain.FeedSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples[id]++
	return domain.FeedSample{FeedID: id, Source: actor, Price: price, Valid: valid}, nil
}

// stubSource serves a fixed quote list.
type stubSource struct {
	quotes []Quote
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(ctx context.Context) ([]Quote, error) {
	return s.quotes, nil
}

func TestPollerRegistersOnceAndSubmits(t *testing.T) {
	writer := newStubFeedWriter()
	src := &stubSource{quotes: []Quote{
		{Name: "BTC/USD", Category: "crypto", Price: fixedpoint.FromInt64(67000)},
	}}
	admin := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	reporter := common.HexToAddress("0x00000000000000000000000000000000000000c3")

	logger := testLogger()
	p := NewPoller([]Source{src}, writer, admin, reporter, time.Minute, logger)

	ctx := context.Background()
	p.pollAll(ctx)
	p.pollAll(ctx)

	id := domain.NewFeedID("BTC/USD", "crypto")
	writer.mu.Lock()
	defer writer.mu.Unlock()
	if writer.registered[id] != 1 {
		t.Fatalf("registered %d times, want 1", writer.registered[id])
	}
	if writer.samples[id] != 2 {
		t.Fatalf("submitted %d samples, want 2", writer.samples[id])
	}
}
