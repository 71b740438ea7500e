// Package reward computes pari-mutuel payouts. It is pure arithmetic with no
// storage or clock dependencies so settlement results are reproducible from
// the inputs alone.
package reward

import (
	"errors"
	"math/big"

	"github.com/concordmarkets/concord/internal/fixedpoint"
)

// DefaultFeeRateBp is the platform fee on the losing pool (2%).
const DefaultFeeRateBp = 200

// ErrZeroWinPool is returned when a payout is requested against an empty
// winning pool. A claimant's own winning stake contributes to the pool, so
// hitting this during claim means a ledger invariant was violated upstream.
var ErrZeroWinPool = errors.New("reward: win pool is zero")

// Breakdown itemizes one winner's payout.
type Breakdown struct {
	Stake       *big.Int // principal returned
	Share       *big.Int // WAD ratio of stake to winPool
	PlatformFee *big.Int // fee taken from the losing pool (whole-pool figure)
	RewardPool  *big.Int // losing pool minus platform fee
	Reward      *big.Int // winner's pro-rata slice of RewardPool
	Payout      *big.Int // Stake + Reward
}

// Calculator computes pari-mutuel rewards at a fixed platform fee rate.
type Calculator struct {
	feeRateBp int64
}

// NewCalculator returns a Calculator with the given fee rate in basis points.
func NewCalculator(feeRateBp int64) Calculator {
	return Calculator{feeRateBp: feeRateBp}
}

// FeeRateBp returns the configured platform fee rate.
func (c Calculator) FeeRateBp() int64 {
	return c.feeRateBp
}

// Payout computes a winner's payout: the stake back plus a share of the
// losing pool proportional to stake/winPool, after the platform fee. All
// divisions truncate.
func (c Calculator) Payout(stake, winPool, losePool *big.Int) (Breakdown, error) {
	if winPool.Sign() == 0 {
		return Breakdown{}, ErrZeroWinPool
	}

	share := fixedpoint.ShareOf(stake, winPool)
	fee := fixedpoint.ApplyBp(losePool, c.feeRateBp)
	rewardPool := new(big.Int).Sub(losePool, fee)
	userReward := fixedpoint.MulDiv(rewardPool, share, fixedpoint.One)
	payout := new(big.Int).Add(stake, userReward)

	return Breakdown{
		Stake:       new(big.Int).Set(stake),
		Share:       share,
		PlatformFee: fee,
		RewardPool:  rewardPool,
		Reward:      userReward,
		Payout:      payout,
	}, nil
}

// Estimate is the non-mutating preview used before settlement: the same
// formula applied to current totals, returning zero when the user has no
// stake or the backed side's pool is empty.
func (c Calculator) Estimate(stake, sidePool, otherPool *big.Int) *big.Int {
	if stake == nil || stake.Sign() == 0 || sidePool.Sign() == 0 {
		return new(big.Int)
	}
	b, err := c.Payout(stake, sidePool, otherPool)
	if err != nil {
		return new(big.Int)
	}
	return b.Payout
}

// Odds returns (yesBp, noBp) for the given pools. The two values always sum
// to exactly 10000: yesBp is the truncated share and noBp takes the
// remainder, so rounding loss cannot make the book appear short. With no
// stake at all the odds are the uniform prior (5000, 5000).
func Odds(totalYes, totalNo *big.Int) (yesBp, noBp int64) {
	total := new(big.Int).Add(totalYes, totalNo)
	if total.Sign() == 0 {
		return 5000, 5000
	}
	yesBp = fixedpoint.BpOf(totalYes, total)
	return yesBp, 10000 - yesBp
}
