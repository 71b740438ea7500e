package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Stake is a user's position on one market. At most one stake exists per
// (market, user) pair; a second stake attempt is rejected rather than merged.
// The only mutation after creation is Claimed flipping false to true.
type Stake struct {
	MarketID  int64
	User      common.Address
	Side      Side
	Amount    *big.Int // WAD, > 0
	Claimed   bool
	StakedAt  time.Time
	ClaimedAt *time.Time
}
