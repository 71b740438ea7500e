package settle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/auth"
	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
	"github.com/concordmarkets/concord/internal/ledger"
	"github.com/concordmarkets/concord/internal/reward"
	"github.com/concordmarkets/concord/internal/store/memory"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	resolver = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

type fixture struct {
	ledger *ledger.Ledger
	engine *Engine
	mem    *memory.Store
	now    time.Time
}

// newFixture wires a ledger and a settlement engine over one shared memory
// store and keyed mutex, the same topology the app uses.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	policy := auth.NewPolicy([]common.Address{admin})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		mem: mem,
		now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.ledger = ledger.New(mem, policy, fixedpoint.FromInt64(1), logger, ledger.WithClock(clock))
	f.engine = New(mem, reward.NewCalculator(reward.DefaultFeeRateBp), f.ledger.Locks(), logger, WithClock(clock))
	return f
}

// settledMarket creates a market, stakes 100 YES for alice and 50 NO for bob,
// then settles it with the given outcome.
func (f *fixture) settledMarket(t *testing.T, outcome bool) domain.Market {
	t.Helper()
	ctx := context.Background()

	m, _, err := f.ledger.CreateMarket(ctx, alice, "Will it rain tomorrow?", f.now.Add(time.Hour), resolver)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if err := f.mem.Balances().Credit(ctx, alice, fixedpoint.FromInt64(100)); err != nil {
		t.Fatalf("credit alice: %v", err)
	}
	if err := f.mem.Balances().Credit(ctx, bob, fixedpoint.FromInt64(50)); err != nil {
		t.Fatalf("credit bob: %v", err)
	}
	if _, _, err := f.ledger.Stake(ctx, alice, m.ID, domain.SideYes, fixedpoint.FromInt64(100)); err != nil {
		t.Fatalf("alice stake: %v", err)
	}
	if _, _, err := f.ledger.Stake(ctx, bob, m.ID, domain.SideNo, fixedpoint.FromInt64(50)); err != nil {
		t.Fatalf("bob stake: %v", err)
	}

	if _, _, err := f.engine.Claim(ctx, alice, m.ID); !errors.Is(err, domain.ErrNotSettled) {
		t.Fatalf("claim before settlement: err = %v, want ErrNotSettled", err)
	}

	f.now = m.Deadline.Add(time.Minute)
	m2, _, err := f.ledger.Settle(ctx, resolver, m.ID, outcome)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	return m2
}

func TestClaimEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.settledMarket(t, true)

	// Losing pool 50, fee 2% = 1, reward pool 49, alice holds the whole
	// winning pool, so she gets 100 + 49 = 149.
	b, _, err := f.engine.Claim(ctx, alice, m.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if b.Payout.Cmp(fixedpoint.FromInt64(149)) != 0 {
		t.Errorf("payout = %s, want 149", fixedpoint.Format(b.Payout))
	}
	if b.PlatformFee.Cmp(fixedpoint.FromInt64(1)) != 0 {
		t.Errorf("fee = %s, want 1", fixedpoint.Format(b.PlatformFee))
	}

	bal, _ := f.mem.Balances().Balance(ctx, alice)
	if bal.Cmp(fixedpoint.FromInt64(149)) != 0 {
		t.Errorf("balance = %s, want 149", fixedpoint.Format(bal))
	}

	st, err := f.mem.Stakes().Get(ctx, m.ID, alice)
	if err != nil {
		t.Fatalf("get stake: %v", err)
	}
	if !st.Claimed || st.ClaimedAt == nil {
		t.Errorf("stake not marked claimed: %+v", st)
	}
}

func TestClaimTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.settledMarket(t, true)

	if _, _, err := f.engine.Claim(ctx, alice, m.ID); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, _, err := f.engine.Claim(ctx, alice, m.ID); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second claim: err = %v, want ErrAlreadyClaimed", err)
	}

	// The rejected second claim must not move money.
	bal, _ := f.mem.Balances().Balance(ctx, alice)
	if bal.Cmp(fixedpoint.FromInt64(149)) != 0 {
		t.Errorf("balance = %s, want 149", fixedpoint.Format(bal))
	}
}

func TestClaimLoser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.settledMarket(t, true)

	if _, _, err := f.engine.Claim(ctx, bob, m.ID); !errors.Is(err, domain.ErrLostPrediction) {
		t.Fatalf("loser claim: err = %v, want ErrLostPrediction", err)
	}
	bal, _ := f.mem.Balances().Balance(ctx, bob)
	if bal.Sign() != 0 {
		t.Errorf("loser balance = %s, want 0", fixedpoint.Format(bal))
	}
}

func TestClaimNoStake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.settledMarket(t, true)

	stranger := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	if _, _, err := f.engine.Claim(ctx, stranger, m.ID); !errors.Is(err, domain.ErrNoStake) {
		t.Fatalf("err = %v, want ErrNoStake", err)
	}
	if _, _, err := f.engine.Claim(ctx, stranger, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing market: err = %v, want ErrNotFound", err)
	}
}

func TestClaimNoOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.settledMarket(t, false)

	// Outcome NO: bob wins the whole YES pool minus fee. 50 + (100-2) = 148.
	b, _, err := f.engine.Claim(ctx, bob, m.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if b.Payout.Cmp(fixedpoint.FromInt64(148)) != 0 {
		t.Errorf("payout = %s, want 148", fixedpoint.Format(b.Payout))
	}
}

func TestPotentialReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, _, err := f.ledger.CreateMarket(ctx, alice, "q", f.now.Add(time.Hour), resolver)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	// No stake yet: preview is zero, not an error.
	got, err := f.engine.PotentialReward(ctx, alice, m.ID)
	if err != nil {
		t.Fatalf("PotentialReward: %v", err)
	}
	if got.Sign() != 0 {
		t.Errorf("reward = %s, want 0", fixedpoint.Format(got))
	}

	f.mem.Balances().Credit(ctx, alice, fixedpoint.FromInt64(100))
	f.mem.Balances().Credit(ctx, bob, fixedpoint.FromInt64(50))
	if _, _, err := f.ledger.Stake(ctx, alice, m.ID, domain.SideYes, fixedpoint.FromInt64(100)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, _, err := f.ledger.Stake(ctx, bob, m.ID, domain.SideNo, fixedpoint.FromInt64(50)); err != nil {
		t.Fatalf("stake: %v", err)
	}

	got, err = f.engine.PotentialReward(ctx, alice, m.ID)
	if err != nil {
		t.Fatalf("PotentialReward: %v", err)
	}
	if got.Cmp(fixedpoint.FromInt64(149)) != 0 {
		t.Errorf("reward = %s, want 149", fixedpoint.Format(got))
	}

	f.now = m.Deadline.Add(time.Minute)
	if _, _, err := f.ledger.Settle(ctx, resolver, m.ID, true); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	// After settlement the loser previews zero.
	got, err = f.engine.PotentialReward(ctx, bob, m.ID)
	if err != nil {
		t.Fatalf("PotentialReward: %v", err)
	}
	if got.Sign() != 0 {
		t.Errorf("loser reward = %s, want 0", fixedpoint.Format(got))
	}

	// And a claimed winner previews zero too.
	if _, _, err := f.engine.Claim(ctx, alice, m.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	got, _ = f.engine.PotentialReward(ctx, alice, m.ID)
	if got.Sign() != 0 {
		t.Errorf("claimed reward = %s, want 0", fixedpoint.Format(got))
	}
}

func TestOdds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, _, err := f.ledger.CreateMarket(ctx, alice, "q", f.now.Add(time.Hour), resolver)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	yes, no, err := f.engine.Odds(ctx, m.ID)
	if err != nil {
		t.Fatalf("Odds: %v", err)
	}
	if yes != 5000 || no != 5000 {
		t.Errorf("empty market odds = %d/%d, want 5000/5000", yes, no)
	}

	f.mem.Balances().Credit(ctx, alice, fixedpoint.FromInt64(100))
	f.mem.Balances().Credit(ctx, bob, fixedpoint.FromInt64(50))
	f.ledger.Stake(ctx, alice, m.ID, domain.SideYes, fixedpoint.FromInt64(100))
	f.ledger.Stake(ctx, bob, m.ID, domain.SideNo, fixedpoint.FromInt64(50))

	yes, no, err = f.engine.Odds(ctx, m.ID)
	if err != nil {
		t.Fatalf("Odds: %v", err)
	}
	if yes != 6666 || no != 3334 {
		t.Errorf("odds = %d/%d, want 6666/3334", yes, no)
	}
	if yes+no != 10000 {
		t.Errorf("odds sum = %d, want 10000", yes+no)
	}
}
