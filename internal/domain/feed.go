package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxWeightBp is the basis-point denominator; reporter weights may not
// exceed it.
const MaxWeightBp = 10000

// FeedID identifies a feed. It is derived deterministically from the feed's
// name and category, so registering another reporter for the same feed
// resolves to the same id.
type FeedID = common.Hash

// NewFeedID derives the id for a feed as Keccak256(name ":" category).
func NewFeedID(name, category string) FeedID {
	return crypto.Keccak256Hash([]byte(name), []byte(":"), []byte(category))
}

// Feed is a registered price feed: one quoted quantity (say BTC/USD) that a
// set of independent reporter sources submit readings for. Feeds are
// deactivated, never deleted.
type Feed struct {
	ID         FeedID
	Name       string
	Category   string
	Active     bool
	LastUpdate time.Time
	CreatedAt  time.Time
}

// FeedSource is one reporter registered for a feed, with the weight its
// samples carry in the consensus average.
type FeedSource struct {
	FeedID   FeedID
	Source   common.Address
	WeightBp int64 // 0-10000
	AddedAt  time.Time
}

// FeedSample is the latest reading reported for a feed by one source. A new
// sample from the same (feed, source) pair overwrites the previous one.
type FeedSample struct {
	FeedID    FeedID
	Source    common.Address
	Price     *big.Int // WAD, > 0
	Valid     bool
	Timestamp time.Time
}

// ConsensusResult is the aggregated, outlier-filtered, weight-averaged value
// for a feed. One slot per feed, overwritten on each recomputation. It is an
// advisory input to resolution and never triggers settlement by itself.
type ConsensusResult struct {
	FeedID      FeedID
	Value       *big.Int // WAD
	SampleCount int      // samples surviving the outlier filter
	ComputedAt  time.Time
}
