package metrics

import (
	"testing"
	"time"
)

func TestSlidingWindowRateCountsRecentEvents(t *testing.T) {
	sw := NewSlidingWindow(60*time.Second, 100)
	now := time.Now().Unix()

	for i := 0; i < 5; i++ {
		sw.Add(now)
	}
	if rate := sw.Rate(); rate <= 0 {
		t.Fatalf("expected a positive rate after adding 5 recent events, got %v", rate)
	}
}

func TestSlidingWindowRateIsZeroWhenEmpty(t *testing.T) {
	sw := NewSlidingWindow(60*time.Second, 100)
	if rate := sw.Rate(); rate != 0 {
		t.Fatalf("expected rate 0 for an empty window, got %v", rate)
	}
}

func TestSlidingWindowDropsEventsOutsideWindow(t *testing.T) {
	sw := NewSlidingWindow(10*time.Second, 100)
	stale := time.Now().Unix() - 3600
	sw.Add(stale)

	if rate := sw.Rate(); rate != 0 {
		t.Fatalf("expected an hour-old event to fall outside a 10s window, got rate %v", rate)
	}
}

func TestSlidingWindowEnforcesMaxSize(t *testing.T) {
	sw := NewSlidingWindow(time.Hour, 3)
	now := time.Now().Unix()
	for i := 0; i < 10; i++ {
		sw.Add(now)
	}
	if got := len(sw.events); got > 3 {
		t.Fatalf("expected events to be capped at maxSize=3, got %d", got)
	}
}

func TestIncrementEnvelopesRoutedAdvancesCounter(t *testing.T) {
	before := GetEnvelopesRoutedCount()
	IncrementEnvelopesRouted()
	if got := GetEnvelopesRoutedCount(); got != before+1 {
		t.Fatalf("expected envelopes routed count to advance by 1, got %d -> %d", before, got)
	}
}

func TestConversationStartedAndCompletedCountersAdvanceIndependently(t *testing.T) {
	beforeStarted := GetConversationsStartedCount()
	beforeCompleted := GetConversationsCompletedCount()

	IncrementConversationsStarted("key_handshake")
	IncrementConversationsCompleted("key_handshake")

	if got := GetConversationsStartedCount(); got != beforeStarted+1 {
		t.Fatalf("expected started count to advance by 1, got %d -> %d", beforeStarted, got)
	}
	if got := GetConversationsCompletedCount(); got != beforeCompleted+1 {
		t.Fatalf("expected completed count to advance by 1, got %d -> %d", beforeCompleted, got)
	}
}

func TestIncrementNotificationsDroppedAdvancesCounter(t *testing.T) {
	before := GetNotificationsDroppedCount()
	IncrementNotificationsDropped("sub-1")
	if got := GetNotificationsDroppedCount(); got != before+1 {
		t.Fatalf("expected notifications dropped count to advance by 1, got %d -> %d", before, got)
	}
}

func TestIncrementErrorCountAdvancesCounter(t *testing.T) {
	before := GetErrorCount()
	IncrementErrorCount()
	if got := GetErrorCount(); got != before+1 {
		t.Fatalf("expected error count to advance by 1, got %d -> %d", before, got)
	}
}
