package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists markets. The store is dumb persistence; lifecycle
// invariants are enforced by the ledger before any mutator is called.
type MarketStore interface {
	// Create inserts the market and returns its assigned sequential id.
	Create(ctx context.Context, m Market) (int64, error)
	GetByID(ctx context.Context, id int64) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	// ListExpiredUnsettled returns markets whose deadline has passed but that
	// have not been settled yet.
	ListExpiredUnsettled(ctx context.Context, now time.Time) ([]Market, error)
	// AddToPool increments the given side's stake total by amount.
	AddToPool(ctx context.Context, id int64, side Side, amount *big.Int) error
	// MarkSettled fixes the outcome. The ledger guarantees this is called at
	// most once per market.
	MarkSettled(ctx context.Context, id int64, outcome bool, at time.Time) error
	SetConfidence(ctx context.Context, id int64, value int) error
	Count(ctx context.Context) (int64, error)
}

// StakeStore persists stakes.
type StakeStore interface {
	// Create inserts a stake. It returns ErrDuplicateStake when a stake for
	// the same (market, user) pair already exists.
	Create(ctx context.Context, s Stake) error
	Get(ctx context.Context, marketID int64, user common.Address) (Stake, error)
	ListByMarket(ctx context.Context, marketID int64, opts ListOpts) ([]Stake, error)
	ListByUser(ctx context.Context, user common.Address, opts ListOpts) ([]Stake, error)
	// MarkClaimed flips the claimed flag. It returns ErrAlreadyClaimed when
	// the flag is already set and ErrNoStake when no stake exists, so a
	// concurrent second claim can never pass.
	MarkClaimed(ctx context.Context, marketID int64, user common.Address, at time.Time) error
}

// FeedStore persists registered feeds and their reporter memberships.
type FeedStore interface {
	Create(ctx context.Context, f Feed) error
	Get(ctx context.Context, id FeedID) (Feed, error)
	List(ctx context.Context) ([]Feed, error)
	SetActive(ctx context.Context, id FeedID, active bool) error
	// Touch bumps the feed's lastUpdate timestamp.
	Touch(ctx context.Context, id FeedID, t time.Time) error
	// UpsertSource adds a reporter to a feed or updates its weight.
	UpsertSource(ctx context.Context, s FeedSource) error
	ListSources(ctx context.Context, feedID FeedID) ([]FeedSource, error)
	// SetSourceWeight updates one reporter's weight, or every reporter's when
	// source is the zero address.
	SetSourceWeight(ctx context.Context, feedID FeedID, source common.Address, weightBp int64) error
}

// SampleStore persists the latest sample per (feed, source) pair.
type SampleStore interface {
	Upsert(ctx context.Context, s FeedSample) error
	ListByFeed(ctx context.Context, feedID FeedID) ([]FeedSample, error)
}

// ConsensusStore persists the single consensus result slot per feed.
type ConsensusStore interface {
	Put(ctx context.Context, r ConsensusResult) error
	Get(ctx context.Context, feedID FeedID) (ConsensusResult, error)
}

// TransferLedger moves value between the platform and users. It stands at
// the boundary where an on-chain token transfer would occur; the shipped
// implementation keeps per-user balances in postgres so stake debits and
// claim credits commit atomically with ledger mutations.
type TransferLedger interface {
	Balance(ctx context.Context, user common.Address) (*big.Int, error)
	Credit(ctx context.Context, user common.Address, amount *big.Int) error
	// Debit returns ErrInsufficientBalance when the user cannot cover amount.
	Debit(ctx context.Context, user common.Address, amount *big.Int) error
}

// AuditStore persists the append-only mutation event log.
type AuditStore interface {
	Append(ctx context.Context, e Event) error
	ListByEntity(ctx context.Context, entityID string, opts ListOpts) ([]Event, error)
	// ListRecent returns the newest events first, up to limit.
	ListRecent(ctx context.Context, limit int) ([]Event, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Event, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Stores bundles every store interface. A Stores value may be bound to a
// connection pool or to a single transaction.
type Stores interface {
	Markets() MarketStore
	Stakes() StakeStore
	Feeds() FeedStore
	Samples() SampleStore
	Consensus() ConsensusStore
	Balances() TransferLedger
	Audit() AuditStore
}

// UnitOfWork runs a function against transaction-bound stores. Either every
// mutation made inside fn commits, or none do; no other caller observes a
// partial state.
type UnitOfWork interface {
	Stores
	InTx(ctx context.Context, fn func(tx Stores) error) error
}
