// Package service composes the core engines with the cache, event bus and
// notifier. Handlers talk to services, never to the engines or stores
// directly. Cache and bus failures are logged and swallowed; the persistent
// store is the source of truth.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/concordmarkets/concord/internal/domain"
)

// EventChannelPrefix is the Redis Pub/Sub namespace for mutation events.
// Subscribers use EventChannelPattern to receive everything.
const (
	EventChannelPrefix  = "events:"
	EventChannelPattern = EventChannelPrefix + "*"
)

// channelFor returns the Pub/Sub channel carrying events of the given type.
func channelFor(t domain.EventType) string {
	return EventChannelPrefix + string(t)
}

// publishEvent fans an event out on the bus after its transaction committed.
// Publish failures are non-fatal; subscribers reconcile from the audit log.
func publishEvent(ctx context.Context, bus domain.EventBus, logger *slog.Logger, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.ErrorContext(ctx, "service: marshal event",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := bus.Publish(ctx, channelFor(ev.Type), payload); err != nil {
		logger.WarnContext(ctx, "service: publish event failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
