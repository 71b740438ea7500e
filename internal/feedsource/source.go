// Package feedsource polls external price APIs and submits the readings as
// feed samples. Each poller is one reporter: its samples enter consensus
// with whatever weight the operator assigned to the reporter address.
package feedsource

import (
	"context"
	"math/big"
)

// Quote is one external price reading, already converted to WAD.
type Quote struct {
	Name     string
	Category string
	Price    *big.Int
}

// Source fetches a batch of quotes from one external API.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Quote, error)
}
