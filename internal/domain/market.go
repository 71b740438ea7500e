package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side is the outcome a stake backs.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s is one of the two recognized sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Matches reports whether the side corresponds to the given settled outcome
// (true means YES won).
func (s Side) Matches(outcome bool) bool {
	if outcome {
		return s == SideYes
	}
	return s == SideNo
}

// MarketStatus is the lifecycle state of a market, derived from its settled
// flag and deadline.
type MarketStatus string

const (
	MarketStatusOpen    MarketStatus = "open"
	MarketStatusExpired MarketStatus = "expired"
	MarketStatusSettled MarketStatus = "settled"
)

// DefaultConfidence is the neutral midpoint assigned to new markets.
const DefaultConfidence = 50

// Market is a binary-outcome prediction market. Stake totals are WAD
// (18-decimal fixed point) integers and never go negative. Once Settled is
// true the outcome is fixed and the totals no longer change.
type Market struct {
	ID           int64
	Question     string
	Deadline     time.Time
	TotalYes     *big.Int
	TotalNo      *big.Int
	Settled      bool
	Outcome      bool // meaningful only when Settled
	Resolver     common.Address
	Creator      common.Address
	Confidence   int // 0-100, cosmetic annotation, never used in settlement
	CreatedAt    time.Time
	SettledAt    *time.Time
	UpdatedAt    time.Time
}

// Status derives the lifecycle state at the given instant.
func (m *Market) Status(now time.Time) MarketStatus {
	switch {
	case m.Settled:
		return MarketStatusSettled
	case !now.Before(m.Deadline):
		return MarketStatusExpired
	default:
		return MarketStatusOpen
	}
}

// TotalStaked returns TotalYes + TotalNo as a fresh big.Int.
func (m *Market) TotalStaked() *big.Int {
	return new(big.Int).Add(m.TotalYes, m.TotalNo)
}

// PoolFor returns the stake total backing the given side.
func (m *Market) PoolFor(side Side) *big.Int {
	if side == SideYes {
		return m.TotalYes
	}
	return m.TotalNo
}
