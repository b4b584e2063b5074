package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SlidingWindow is a simple sliding window for rate calculations, used for
// the dashboard-style counters that sit alongside the Prometheus gauges
// below (Prometheus counters can't be read back directly by the process
// that emits them).
type SlidingWindow struct {
	mu      sync.RWMutex
	events  []int64
	window  time.Duration
	maxSize int
}

// NewSlidingWindow creates a new sliding window.
func NewSlidingWindow(window time.Duration, maxSize int) *SlidingWindow {
	return &SlidingWindow{
		events:  make([]int64, 0, maxSize),
		window:  window,
		maxSize: maxSize,
	}
}

// Add adds an event timestamp to the window.
func (sw *SlidingWindow) Add(timestamp int64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.events = append(sw.events, timestamp)

	now := time.Now().Unix()
	cutoff := now - int64(sw.window.Seconds())

	i := 0
	for i < len(sw.events) && sw.events[i] < cutoff {
		i++
	}
	if i > 0 {
		sw.events = sw.events[i:]
	}
	if len(sw.events) > sw.maxSize {
		sw.events = sw.events[len(sw.events)-sw.maxSize:]
	}
}

// Rate returns the current rate (events per second).
func (sw *SlidingWindow) Rate() float64 {
	sw.mu.RLock()
	defer sw.mu.RUnlock()

	if len(sw.events) == 0 {
		return 0
	}

	now := time.Now().Unix()
	cutoff := now - int64(sw.window.Seconds())

	count := 0
	for _, timestamp := range sw.events {
		if timestamp >= cutoff {
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(count) / sw.window.Seconds()
}

var (
	envelopeWindow    = NewSlidingWindow(60*time.Second, 10000)
	conversationWindow = NewSlidingWindow(60*time.Second, 4096)
)

// Global counters mirrored for dashboard display.
var (
	envelopesRoutedCount    int64
	conversationsStarted    int64
	conversationsCompleted  int64
	notificationsDropped    int64
	errorCount              int64
)

// IncrementEnvelopesRouted records one more envelope successfully routed
// to a conversation or standing listener.
func IncrementEnvelopesRouted() {
	atomic.AddInt64(&envelopesRoutedCount, 1)
	envelopeWindow.Add(time.Now().Unix())
	EnvelopesRouted.Inc()
}

// GetEnvelopesRoutedCount returns the running total.
func GetEnvelopesRoutedCount() int64 {
	return atomic.LoadInt64(&envelopesRoutedCount)
}

// GetEnvelopeRate returns envelopes-routed-per-second over the last minute.
func GetEnvelopeRate() float64 {
	return envelopeWindow.Rate()
}

// IncrementConversationsStarted records a new conversation task spawned.
func IncrementConversationsStarted(kind string) {
	atomic.AddInt64(&conversationsStarted, 1)
	conversationWindow.Add(time.Now().Unix())
	ActiveConversations.WithLabelValues(kind).Inc()
}

// IncrementConversationsCompleted records a conversation reaching a
// terminal state, and decrements the active gauge for its kind.
func IncrementConversationsCompleted(kind string) {
	atomic.AddInt64(&conversationsCompleted, 1)
	ActiveConversations.WithLabelValues(kind).Dec()
}

// GetConversationsStartedCount returns the running total.
func GetConversationsStartedCount() int64 {
	return atomic.LoadInt64(&conversationsStarted)
}

// GetConversationsCompletedCount returns the running total.
func GetConversationsCompletedCount() int64 {
	return atomic.LoadInt64(&conversationsCompleted)
}

// IncrementNotificationsDropped records the subscription registry dropping
// the oldest notification because a queue was full (§4.6).
func IncrementNotificationsDropped(subscriptionID string) {
	atomic.AddInt64(&notificationsDropped, 1)
	SubscriptionNotificationsDropped.Inc()
}

// GetNotificationsDroppedCount returns the running total.
func GetNotificationsDroppedCount() int64 {
	return atomic.LoadInt64(&notificationsDropped)
}

// IncrementErrorCount increments the global error counter (used by
// internal/errors' ErrorMiddleware.HandleError).
func IncrementErrorCount() {
	atomic.AddInt64(&errorCount, 1)
	ErrorsTotal.Inc()
}

// GetErrorCount returns the running total of handled errors.
func GetErrorCount() int64 {
	return atomic.LoadInt64(&errorCount)
}

// Prometheus collectors, grounded on the teacher's promauto registration
// pattern, retargeted from "events stored in the relay's DB" to "envelopes
// routed through the conversation runtime."
var (
	ActiveRelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_active_relay_connections",
		Help: "Number of relays the pool currently holds an open connection to.",
	})

	ConfiguredRelays = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_configured_relays",
		Help: "Number of relay URLs currently configured in the pool.",
	})

	RelayReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_relay_reconnects_total",
		Help: "Reconnect attempts per relay URL.",
	}, []string{"relay_url"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_events_published_total",
		Help: "Events published by the relay pool, by outcome.",
	}, []string{"outcome"})

	PublishLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portal_publish_latency_seconds",
		Help:    "Latency from publish() call to first relay acknowledgment.",
		Buckets: prometheus.DefBuckets,
	})

	EnvelopesRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_envelopes_routed_total",
		Help: "Inbound envelopes successfully routed to a conversation or standing listener.",
	})

	EnvelopesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_envelopes_dropped_total",
		Help: "Inbound envelopes dropped, by reason.",
	}, []string{"reason"})

	DuplicateEnvelopes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_duplicate_envelopes_total",
		Help: "Envelopes suppressed by the router's or pool's duplicate LRU.",
	})

	ActiveConversations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "portal_active_conversations",
		Help: "Currently running conversations, by kind.",
	}, []string{"kind"})

	StandingListeners = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "portal_standing_listeners",
		Help: "Currently installed standing listeners, by kind.",
	}, []string{"kind"})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_active_subscriptions",
		Help: "Currently open client subscriptions.",
	})

	SubscriptionQueueDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portal_subscription_queue_depth",
		Help:    "Observed depth of a subscription's notification queue at push time.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
	})

	SubscriptionNotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_subscription_notifications_dropped_total",
		Help: "Notifications dropped because a subscription's outbound queue was full.",
	})

	ErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_errors_total",
		Help: "Errors handled by the error middleware, across all categories.",
	})

	CommandsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_client_commands_total",
		Help: "Client commands received on the transport, by command name.",
	}, []string{"command"})

	ActiveClientSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_active_client_sessions",
		Help: "Currently connected client WebSocket sessions.",
	})
)

// RegisterMetrics is the single entrypoint the cmd package calls once at
// startup; promauto already registers each collector with the default
// registry at declaration time, so this mainly documents the call site the
// way the teacher's own RegisterMetrics() does.
func RegisterMetrics() {
	ActiveRelayConnections.Set(0)
	ConfiguredRelays.Set(0)
}
