package auth

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	resolver = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	source   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	rando    = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

func TestRequireAdmin(t *testing.T) {
	p := NewPolicy([]common.Address{admin})

	if err := p.RequireAdmin(admin); err != nil {
		t.Errorf("admin rejected: %v", err)
	}
	if err := p.RequireAdmin(rando); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRequireResolver(t *testing.T) {
	p := NewPolicy([]common.Address{admin})
	m := domain.Market{ID: 7, Resolver: resolver}

	if err := p.RequireResolver(m, resolver); err != nil {
		t.Errorf("resolver rejected: %v", err)
	}
	if err := p.RequireResolver(m, admin); err != nil {
		t.Errorf("admin rejected: %v", err)
	}
	if err := p.RequireResolver(m, rando); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRequireReporter(t *testing.T) {
	p := NewPolicy([]common.Address{admin})
	f := domain.Feed{ID: domain.NewFeedID("BTC", "crypto")}
	sources := []domain.FeedSource{{FeedID: f.ID, Source: source, WeightBp: 5000}}

	if err := p.RequireReporter(f, sources, source); err != nil {
		t.Errorf("registered reporter rejected: %v", err)
	}
	if err := p.RequireReporter(f, sources, admin); err != nil {
		t.Errorf("admin rejected: %v", err)
	}
	if err := p.RequireReporter(f, sources, rando); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}
