// Package auth holds the role policy checked once per entry point. Keeping
// the capability checks here keeps caller-identity comparisons out of the
// ledger's numeric logic.
package auth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
)

// Policy answers "may this actor perform this operation on this entity".
type Policy struct {
	admins map[common.Address]bool
}

// NewPolicy creates a Policy with the given admin set.
func NewPolicy(admins []common.Address) *Policy {
	set := make(map[common.Address]bool, len(admins))
	for _, a := range admins {
		set[a] = true
	}
	return &Policy{admins: set}
}

// IsAdmin reports whether the actor is a platform admin.
func (p *Policy) IsAdmin(actor common.Address) bool {
	return p.admins[actor]
}

// RequireAdmin returns ErrUnauthorized unless the actor is an admin.
func (p *Policy) RequireAdmin(actor common.Address) error {
	if !p.IsAdmin(actor) {
		return fmt.Errorf("auth: actor %s is not an admin: %w", actor.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// RequireResolver returns ErrUnauthorized unless the actor is the market's
// designated resolver or an admin.
func (p *Policy) RequireResolver(m domain.Market, actor common.Address) error {
	if actor == m.Resolver || p.IsAdmin(actor) {
		return nil
	}
	return fmt.Errorf("auth: actor %s may not resolve market %d: %w",
		actor.Hex(), m.ID, domain.ErrUnauthorized)
}

// RequireReporter returns ErrUnauthorized unless the actor is one of the
// feed's registered reporter sources or an admin.
func (p *Policy) RequireReporter(f domain.Feed, sources []domain.FeedSource, actor common.Address) error {
	if p.IsAdmin(actor) {
		return nil
	}
	for _, s := range sources {
		if s.Source == actor {
			return nil
		}
	}
	return fmt.Errorf("auth: actor %s may not report for feed %s: %w",
		actor.Hex(), f.ID.Hex(), domain.ErrUnauthorized)
}
