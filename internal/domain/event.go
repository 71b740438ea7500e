package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType labels a mutation notification.
type EventType string

const (
	EventMarketCreated     EventType = "market_created"
	EventStakeRecorded     EventType = "stake_recorded"
	EventMarketSettled     EventType = "market_settled"
	EventRewardClaimed     EventType = "reward_claimed"
	EventConfidenceUpdated EventType = "confidence_updated"
	EventFeedRegistered    EventType = "feed_registered"
	EventFeedDeactivated   EventType = "feed_deactivated"
	EventFeedWeightSet     EventType = "feed_weight_set"
	EventSampleUpdated     EventType = "feed_sample_updated"
	EventConsensusComputed EventType = "consensus_computed"
	EventBalanceCredited   EventType = "balance_credited"
)

// Event is the notification emitted by every mutating operation. Fields carry
// the affected entity id, the actor that triggered the mutation, and the
// post-state fields relevant to that mutation, for audit and event-sourcing
// by external observers.
type Event struct {
	ID       string         `json:"id"` // uuid
	Type     EventType      `json:"type"`
	EntityID string         `json:"entity_id"`
	Actor    common.Address `json:"actor"`
	Fields   map[string]any `json:"fields,omitempty"`
	At       time.Time      `json:"at"`
}

// NewEvent builds an Event with a fresh uuid.
func NewEvent(t EventType, entityID string, actor common.Address, at time.Time, fields map[string]any) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     t,
		EntityID: entityID,
		Actor:    actor,
		Fields:   fields,
		At:       at,
	}
}
