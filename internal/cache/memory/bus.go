// Package memory implements the domain cache interfaces in-process. It backs
// the dev mode, where the service runs without Redis: the bus fans events out
// to local subscribers only, and the caches always miss so reads hit the
// store directly.
package memory

import (
	"context"
	"path"
	"sync"

	"github.com/concordmarkets/concord/internal/domain"
)

type subscriber struct {
	pattern string
	ch      chan []byte
}

// Bus implements domain.EventBus with local fan-out. Channel patterns use
// glob syntax, matching the Redis Pub/Sub PSUBSCRIBE semantics the websocket
// hub relies on.
type Bus struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers the payload to every subscriber whose pattern matches the
// channel. Slow subscribers drop messages rather than block the publisher.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for the channel or glob pattern. The
// returned channel closes when the context is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, 128)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}()

	return s.ch, nil
}

var _ domain.EventBus = (*Bus)(nil)
