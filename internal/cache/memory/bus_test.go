package memory

import (
	"context"
	"testing"
	"time"
)

func TestBusPatternFanout(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all, err := bus.Subscribe(ctx, "events:*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	settled, err := bus.Subscribe(ctx, "events:market_settled")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := bus.Publish(ctx, "events:stake_placed", []byte("a")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := bus.Publish(ctx, "events:market_settled", []byte("b")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	recv := func(ch <-chan []byte) string {
		select {
		case msg := <-ch:
			return string(msg)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
			return ""
		}
	}

	if got := recv(all); got != "a" {
		t.Fatalf("wildcard got %q, want a", got)
	}
	if got := recv(all); got != "b" {
		t.Fatalf("wildcard got %q, want b", got)
	}
	if got := recv(settled); got != "b" {
		t.Fatalf("exact subscriber got %q, want b", got)
	}

	select {
	case msg := <-settled:
		t.Fatalf("exact subscriber received unexpected %q", msg)
	default:
	}
}

func TestBusSubscribeClosesOnCancel(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "events:*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
