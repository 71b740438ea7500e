package consensus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/auth"
	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
	"github.com/concordmarkets/concord/internal/store/memory"
)

var (
	admin = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	srcA  = common.HexToAddress("0x0000000000000000000000000000000000000aaa")
	srcB  = common.HexToAddress("0x0000000000000000000000000000000000000bbb")
	srcC  = common.HexToAddress("0x0000000000000000000000000000000000000ccc")
	srcD  = common.HexToAddress("0x0000000000000000000000000000000000000ddd")
	rando = common.HexToAddress("0x0000000000000000000000000000000000000eee")
)

func newTestEngine(t *testing.T) (*Engine, *memory.Store, *time.Time) {
	t.Helper()
	mem := memory.New()
	policy := auth.NewPolicy([]common.Address{admin})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(mem, policy, 0, 0, logger)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, mem, &now
}

func registerFeed(t *testing.T, e *Engine, sources ...common.Address) domain.Feed {
	t.Helper()
	var f domain.Feed
	for _, src := range sources {
		var err error
		f, _, err = e.Register(context.Background(), admin, "BTC/USD", "crypto", src, 2500)
		if err != nil {
			t.Fatalf("Register %s: %v", src.Hex(), err)
		}
	}
	return f
}

func submit(t *testing.T, e *Engine, id domain.FeedID, src common.Address, price int64) {
	t.Helper()
	if _, _, err := e.SubmitSample(context.Background(), src, id, fixedpoint.FromInt64(price), true); err != nil {
		t.Fatalf("SubmitSample %s: %v", src.Hex(), err)
	}
}

func TestRegister(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	f, _, err := e.Register(ctx, admin, "BTC/USD", "crypto", srcA, 5000)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if f.ID != domain.NewFeedID("BTC/USD", "crypto") {
		t.Errorf("ID = %s", f.ID.Hex())
	}
	if !f.Active {
		t.Error("new feed not active")
	}

	// Same (name, category) resolves to the same feed.
	f2, _, err := e.Register(ctx, admin, "BTC/USD", "crypto", srcB, 5000)
	if err != nil {
		t.Fatalf("second Register: %v", err)
	}
	if f2.ID != f.ID {
		t.Errorf("second registration created feed %s, want %s", f2.ID.Hex(), f.ID.Hex())
	}

	sources, err := e.uow.Feeds().ListSources(ctx, f.ID)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(sources) != 2 {
		t.Errorf("sources = %d, want 2", len(sources))
	}
}

func TestRegisterValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, _, err := e.Register(ctx, rando, "BTC/USD", "crypto", srcA, 5000); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("non-admin: err = %v, want ErrUnauthorized", err)
	}
	if _, _, err := e.Register(ctx, admin, " ", "crypto", srcA, 5000); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty name: err = %v, want ErrInvalidInput", err)
	}
	if _, _, err := e.Register(ctx, admin, "BTC/USD", "crypto", common.Address{}, 5000); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("zero source: err = %v, want ErrInvalidInput", err)
	}
	if _, _, err := e.Register(ctx, admin, "BTC/USD", "crypto", srcA, 10001); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("weight over cap: err = %v, want ErrInvalidInput", err)
	}
	if _, _, err := e.Register(ctx, admin, "BTC/USD", "crypto", srcA, 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("zero weight: err = %v, want ErrInvalidInput", err)
	}
}

func TestSubmitSample(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()
	f := registerFeed(t, e, srcA)

	submit(t, e, f.ID, srcA, 100)

	samples, err := mem.Samples().ListByFeed(ctx, f.ID)
	if err != nil {
		t.Fatalf("ListByFeed: %v", err)
	}
	if len(samples) != 1 || samples[0].Price.Cmp(fixedpoint.FromInt64(100)) != 0 {
		t.Fatalf("samples = %+v", samples)
	}

	// Resubmission overwrites, it does not accumulate.
	submit(t, e, f.ID, srcA, 105)
	samples, _ = mem.Samples().ListByFeed(ctx, f.ID)
	if len(samples) != 1 || samples[0].Price.Cmp(fixedpoint.FromInt64(105)) != 0 {
		t.Fatalf("after resubmit: samples = %+v", samples)
	}

	got, err := e.GetFeed(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if !got.LastUpdate.Equal(e.now()) {
		t.Errorf("LastUpdate = %v, want %v", got.LastUpdate, e.now())
	}
}

func TestSubmitSampleRejections(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	f := registerFeed(t, e, srcA)

	if _, _, err := e.SubmitSample(ctx, rando, f.ID, fixedpoint.FromInt64(100), true); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("unregistered source: err = %v, want ErrUnauthorized", err)
	}
	if _, _, err := e.SubmitSample(ctx, srcA, f.ID, big.NewInt(0), true); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("zero price: err = %v, want ErrInvalidInput", err)
	}
	if _, _, err := e.SubmitSample(ctx, srcA, domain.NewFeedID("nope", "x"), fixedpoint.FromInt64(1), true); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing feed: err = %v, want ErrNotFound", err)
	}

	if _, err := e.Deactivate(ctx, admin, f.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, _, err := e.SubmitSample(ctx, srcA, f.ID, fixedpoint.FromInt64(100), true); !errors.Is(err, domain.ErrFeedInactive) {
		t.Errorf("inactive feed: err = %v, want ErrFeedInactive", err)
	}
}

func TestComputeFiltersOutliers(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	f := registerFeed(t, e, srcA, srcB, srcC, srcD)

	// Sorted prices 98, 100, 102, 500: the median is 101 and 500 deviates
	// from it by far more than 20%, so only the three close samples survive.
	submit(t, e, f.ID, srcA, 100)
	submit(t, e, f.ID, srcB, 102)
	submit(t, e, f.ID, srcC, 98)
	submit(t, e, f.ID, srcD, 500)

	r, _, err := e.Compute(ctx, f.ID)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if r.SampleCount != 3 {
		t.Errorf("SampleCount = %d, want 3", r.SampleCount)
	}
	if r.Value.Cmp(fixedpoint.FromInt64(100)) != 0 {
		t.Errorf("Value = %s, want 100e18", fixedpoint.Format(r.Value))
	}

	latest, err := e.Latest(ctx, f.ID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Value.Cmp(r.Value) != 0 {
		t.Errorf("stored value = %s, want %s", latest.Value, r.Value)
	}
}

func TestComputeWeighted(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, _, err := e.Register(ctx, admin, "ETH/USD", "crypto", srcA, 7500); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f, _, err := e.Register(ctx, admin, "ETH/USD", "crypto", srcB, 2500)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	submit(t, e, f.ID, srcA, 100)
	submit(t, e, f.ID, srcB, 104)

	// (100*7500 + 104*2500) / 10000 = 101.
	r, _, err := e.Compute(ctx, f.ID)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if r.Value.Cmp(fixedpoint.FromInt64(101)) != 0 {
		t.Errorf("Value = %s, want 101", fixedpoint.Format(r.Value))
	}
}

func TestComputeSkipsStaleAndInvalid(t *testing.T) {
	e, _, nowp := newTestEngine(t)
	ctx := context.Background()
	f := registerFeed(t, e, srcA, srcB, srcC)

	submit(t, e, f.ID, srcA, 100)
	if _, _, err := e.SubmitSample(ctx, srcB, f.ID, fixedpoint.FromInt64(90), false); err != nil {
		t.Fatalf("SubmitSample invalid: %v", err)
	}

	// srcC reported long ago; advance past the staleness window.
	submit(t, e, f.ID, srcC, 200)
	*nowp = nowp.Add(DefaultStaleness + time.Second)
	submit(t, e, f.ID, srcA, 100)

	r, _, err := e.Compute(ctx, f.ID)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if r.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", r.SampleCount)
	}
	if r.Value.Cmp(fixedpoint.FromInt64(100)) != 0 {
		t.Errorf("Value = %s, want 100", fixedpoint.Format(r.Value))
	}
}

func TestComputeErrors(t *testing.T) {
	e, _, nowp := newTestEngine(t)
	ctx := context.Background()
	f := registerFeed(t, e, srcA)

	if _, _, err := e.Compute(ctx, f.ID); !errors.Is(err, domain.ErrNoValidData) {
		t.Errorf("no samples: err = %v, want ErrNoValidData", err)
	}

	submit(t, e, f.ID, srcA, 100)
	*nowp = nowp.Add(DefaultStaleness + time.Second)
	if _, _, err := e.Compute(ctx, f.ID); !errors.Is(err, domain.ErrNoValidData) {
		t.Errorf("all stale: err = %v, want ErrNoValidData", err)
	}

	if _, err := e.Deactivate(ctx, admin, f.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, _, err := e.Compute(ctx, f.ID); !errors.Is(err, domain.ErrFeedInactive) {
		t.Errorf("inactive: err = %v, want ErrFeedInactive", err)
	}
}

func TestSetWeight(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	f := registerFeed(t, e, srcA, srcB)

	if _, err := e.SetWeight(ctx, rando, f.ID, srcA, 1000); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("non-admin: err = %v, want ErrUnauthorized", err)
	}
	if _, err := e.SetWeight(ctx, admin, f.ID, srcA, 1000); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}

	// Zero address fans out to every reporter.
	if _, err := e.SetWeight(ctx, admin, f.ID, common.Address{}, 4000); err != nil {
		t.Fatalf("SetWeight all: %v", err)
	}
	sources, _ := e.uow.Feeds().ListSources(ctx, f.ID)
	for _, s := range sources {
		if s.WeightBp != 4000 {
			t.Errorf("source %s weight = %d, want 4000", s.Source.Hex(), s.WeightBp)
		}
	}
}

// flakyUOW makes every FeedStore.Get fail, simulating a transient store
// outage.
type flakyUOW struct{ *memory.Store }

func (u flakyUOW) Feeds() domain.FeedStore { return flakyFeeds{u.Store.Feeds()} }

func (u flakyUOW) InTx(ctx context.Context, fn func(domain.Stores) error) error {
	return u.Store.InTx(ctx, func(tx domain.Stores) error {
		return fn(flakyStores{tx})
	})
}

type flakyStores struct{ domain.Stores }

func (s flakyStores) Feeds() domain.FeedStore { return flakyFeeds{s.Stores.Feeds()} }

type flakyFeeds struct{ domain.FeedStore }

var errConnReset = errors.New("connection reset")

func (flakyFeeds) Get(context.Context, domain.FeedID) (domain.Feed, error) {
	return domain.Feed{}, errConnReset
}

func TestRegisterPropagatesStoreErrors(t *testing.T) {
	mem := memory.New()
	policy := auth.NewPolicy([]common.Address{admin})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(flakyUOW{mem}, policy, 0, 0, logger)
	ctx := context.Background()

	// A failing Get must surface, not be mistaken for a missing feed.
	_, _, err := e.Register(ctx, admin, "BTC/USD", "crypto", srcA, 5000)
	if !errors.Is(err, errConnReset) {
		t.Fatalf("err = %v, want the store error", err)
	}
	feeds, err := mem.Feeds().List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(feeds) != 0 {
		t.Errorf("feed created despite the store failure: %+v", feeds)
	}
}

func TestRegisterWeightTotalCap(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()

	f, _, err := e.Register(ctx, admin, "BTC/USD", "crypto", srcA, 7500)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, _, err := e.Register(ctx, admin, "BTC/USD", "crypto", srcB, 5000); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("combined weight over cap: err = %v, want ErrInvalidInput", err)
	}

	// The rejected registration rolled back; srcB is not enrolled.
	sources, err := mem.Feeds().ListSources(ctx, f.ID)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(sources))
	}

	if _, _, err := e.Register(ctx, admin, "BTC/USD", "crypto", srcB, 2500); err != nil {
		t.Fatalf("Register exactly at the cap: %v", err)
	}
}

func TestSetWeightTotalCap(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()
	f := registerFeed(t, e, srcA, srcB)

	if _, err := e.SetWeight(ctx, admin, f.ID, srcB, 8000); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("combined weight over cap: err = %v, want ErrInvalidInput", err)
	}
	sources, err := mem.Feeds().ListSources(ctx, f.ID)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	for _, s := range sources {
		if s.WeightBp != 2500 {
			t.Errorf("source %s weight = %d, want unchanged 2500", s.Source.Hex(), s.WeightBp)
		}
	}

	// The broadcast form is held to the same combined cap.
	if _, err := e.SetWeight(ctx, admin, f.ID, common.Address{}, 6000); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("broadcast over cap: err = %v, want ErrInvalidInput", err)
	}
}

func TestMedianEvenCount(t *testing.T) {
	mk := func(p int64) domain.FeedSample {
		return domain.FeedSample{Price: fixedpoint.FromInt64(p)}
	}
	got := median([]domain.FeedSample{mk(10), mk(20), mk(30), mk(41)})
	want := new(big.Int).Quo(fixedpoint.FromInt64(51), big.NewInt(2))
	if got.Cmp(want) != 0 {
		t.Errorf("median = %s, want %s", got, want)
	}
}
