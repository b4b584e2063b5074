package relaypool

import (
	"context"
	"testing"
	"time"
)

func TestNewPoolStartsWithEmptyDedupeCache(t *testing.T) {
	p, err := NewPool(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	if p.dedupe.Len() != 0 {
		t.Fatalf("expected empty dedupe cache, got %d entries", p.dedupe.Len())
	}
}

func TestPublishFailsWithNoRelays(t *testing.T) {
	p, err := NewPool(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	if err := p.Publish(context.Background(), nil); err == nil {
		t.Fatal("expected NoRelaysAvailable error with zero connected relays")
	}
}

func TestSleepBackoffDoublesUpToMax(t *testing.T) {
	p := &Pool{}
	delay := 10 * time.Millisecond
	ctx := context.Background()

	if !p.sleepBackoff(ctx, &delay, 100*time.Millisecond) {
		t.Fatal("sleepBackoff should succeed with a live context")
	}
	if delay != 20*time.Millisecond {
		t.Fatalf("expected delay to double to 20ms, got %v", delay)
	}

	delay = 90 * time.Millisecond
	if !p.sleepBackoff(ctx, &delay, 100*time.Millisecond) {
		t.Fatal("sleepBackoff should succeed with a live context")
	}
	if delay != 100*time.Millisecond {
		t.Fatalf("expected delay to clamp to max 100ms, got %v", delay)
	}
}

func TestSleepBackoffAbortsOnCanceledContext(t *testing.T) {
	p := &Pool{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	delay := time.Hour
	if p.sleepBackoff(ctx, &delay, time.Hour) {
		t.Fatal("sleepBackoff should abort immediately on a canceled context")
	}
}

func TestConnectedCountStartsAtZero(t *testing.T) {
	p, err := NewPool(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	if got := p.ConnectedCount(); got != 0 {
		t.Fatalf("expected 0 connected relays, got %d", got)
	}
}
