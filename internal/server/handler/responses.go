package handler

import (
	"time"

	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
)

// Wire representations. WAD amounts travel as decimal strings so clients
// never round them through floats.

type marketResponse struct {
	ID         int64      `json:"id"`
	Question   string     `json:"question"`
	Deadline   time.Time  `json:"deadline"`
	Status     string     `json:"status"`
	TotalYes   string     `json:"total_yes"`
	TotalNo    string     `json:"total_no"`
	Settled    bool       `json:"settled"`
	Outcome    *bool      `json:"outcome,omitempty"`
	Resolver   string     `json:"resolver"`
	Creator    string     `json:"creator"`
	Confidence int        `json:"confidence"`
	CreatedAt  time.Time  `json:"created_at"`
	SettledAt  *time.Time `json:"settled_at,omitempty"`
}

func toMarketResponse(m domain.Market) marketResponse {
	resp := marketResponse{
		ID:         m.ID,
		Question:   m.Question,
		Deadline:   m.Deadline,
		Status:     string(m.Status(time.Now())),
		TotalYes:   fixedpoint.Format(m.TotalYes),
		TotalNo:    fixedpoint.Format(m.TotalNo),
		Settled:    m.Settled,
		Resolver:   m.Resolver.Hex(),
		Creator:    m.Creator.Hex(),
		Confidence: m.Confidence,
		CreatedAt:  m.CreatedAt,
		SettledAt:  m.SettledAt,
	}
	if m.Settled {
		outcome := m.Outcome
		resp.Outcome = &outcome
	}
	return resp
}

func toMarketResponses(markets []domain.Market) []marketResponse {
	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, toMarketResponse(m))
	}
	return out
}

type stakeResponse struct {
	MarketID  int64      `json:"market_id"`
	User      string     `json:"user"`
	Side      string     `json:"side"`
	Amount    string     `json:"amount"`
	Claimed   bool       `json:"claimed"`
	StakedAt  time.Time  `json:"staked_at"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

func toStakeResponse(s domain.Stake) stakeResponse {
	return stakeResponse{
		MarketID:  s.MarketID,
		User:      s.User.Hex(),
		Side:      string(s.Side),
		Amount:    fixedpoint.Format(s.Amount),
		Claimed:   s.Claimed,
		StakedAt:  s.StakedAt,
		ClaimedAt: s.ClaimedAt,
	}
}

func toStakeResponses(stakes []domain.Stake) []stakeResponse {
	out := make([]stakeResponse, 0, len(stakes))
	for _, s := range stakes {
		out = append(out, toStakeResponse(s))
	}
	return out
}

type feedResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Active     bool      `json:"active"`
	LastUpdate time.Time `json:"last_update"`
	CreatedAt  time.Time `json:"created_at"`
}

func toFeedResponse(f domain.Feed) feedResponse {
	return feedResponse{
		ID:         f.ID.Hex(),
		Name:       f.Name,
		Category:   f.Category,
		Active:     f.Active,
		LastUpdate: f.LastUpdate,
		CreatedAt:  f.CreatedAt,
	}
}

type sourceResponse struct {
	Source   string    `json:"source"`
	WeightBp int64     `json:"weight_bp"`
	AddedAt  time.Time `json:"added_at"`
}

func toSourceResponses(sources []domain.FeedSource) []sourceResponse {
	out := make([]sourceResponse, 0, len(sources))
	for _, s := range sources {
		out = append(out, sourceResponse{
			Source:   s.Source.Hex(),
			WeightBp: s.WeightBp,
			AddedAt:  s.AddedAt,
		})
	}
	return out
}

type consensusResponse struct {
	FeedID      string    `json:"feed_id"`
	Value       string    `json:"value"`
	SampleCount int       `json:"sample_count"`
	ComputedAt  time.Time `json:"computed_at"`
}

func toConsensusResponse(r domain.ConsensusResult) consensusResponse {
	return consensusResponse{
		FeedID:      r.FeedID.Hex(),
		Value:       fixedpoint.Format(r.Value),
		SampleCount: r.SampleCount,
		ComputedAt:  r.ComputedAt,
	}
}

type eventResponse struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	EntityID string         `json:"entity_id"`
	Actor    string         `json:"actor"`
	Fields   map[string]any `json:"fields,omitempty"`
	At       time.Time      `json:"at"`
}

func toEventResponses(events []domain.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:       e.ID,
			Type:     string(e.Type),
			EntityID: e.EntityID,
			Actor:    e.Actor.Hex(),
			Fields:   e.Fields,
			At:       e.At,
		})
	}
	return out
}
