package domain

import "errors"

// Sentinel errors returned by the core engines. Handlers map these onto HTTP
// status codes; callers test them with errors.Is after unwrapping.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")

	// Market lifecycle violations.
	ErrAlreadySettled = errors.New("market already settled")
	ErrNotYetExpired  = errors.New("market deadline has not passed")
	ErrMarketExpired  = errors.New("market deadline has passed")
	ErrDuplicateStake = errors.New("stake already exists for this market and user")
	ErrBelowMinimum   = errors.New("stake amount below minimum")

	// Claim violations.
	ErrNotSettled     = errors.New("market not settled")
	ErrNoStake        = errors.New("no stake recorded for user")
	ErrAlreadyClaimed = errors.New("reward already claimed")
	ErrLostPrediction = errors.New("stake is on the losing side")

	// Consensus computation.
	ErrNoValidData  = errors.New("no valid feed samples")
	ErrAllOutliers  = errors.New("all feed samples rejected as outliers")
	ErrZeroWeight   = errors.New("total feed weight is zero")
	ErrFeedInactive = errors.New("feed is deactivated")

	// Value transfer boundary.
	ErrTransferFailed      = errors.New("value transfer failed")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// Coordination.
	ErrLockHeld = errors.New("lock already held")
)
