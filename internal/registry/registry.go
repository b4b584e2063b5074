// Package registry implements the Subscription Registry (§4.6): it
// exposes each active conversation as a named stream to the client
// layer, bridging a runtime.EffectSink's notifications and terminal
// result onto a bounded per-subscription queue. Map/mutex shape grounded
// on the teacher's WsConnection subscription bookkeeping
// (hasSubscription/addSubscription/removeSubscription/GetSubscriptions in
// relay/subscription.go), adapted from Nostr filter storage to
// notification-queue storage.
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/metrics"
)

// defaultQueueDepth is the default bounded outbound queue depth per
// subscription (§5 Resource caps).
const defaultQueueDepth = 32

// ItemKind discriminates what a subscription's Next call returns.
type ItemKind int

const (
	ItemNotification ItemKind = iota
	ItemDropped
	ItemOk
	ItemErr
)

// Item is one unit delivered to a client's subscription stream.
type Item struct {
	Kind    ItemKind
	Payload any
	Dropped int
	Result  any
	Err     error
}

// Publisher is the outbound-to-relay side every EffectSink ultimately
// needs; the registry does not implement publishing itself; it delegates
// to whatever the caller wires in (ordinarily internal/router plus
// internal/relaypool).
type Publisher interface {
	PublishEnvelope(recipient string, env envelope.Envelope) error
}

// Subscription is a server-local handle bridging one conversation's
// notifications to a client stream (§3 Glossary "Subscription").
type Subscription struct {
	ID             string
	ConversationID string

	mu             sync.Mutex
	queue          []Item
	maxDepth       int
	droppedPending int
	signal         chan struct{}
	closed         bool
}

func newSubscription(id, conversationID string, maxDepth int) *Subscription {
	return &Subscription{
		ID:             id,
		ConversationID: conversationID,
		maxDepth:       maxDepth,
		signal:         make(chan struct{}, 1),
	}
}

func (s *Subscription) push(it Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if len(s.queue) >= s.maxDepth {
		s.queue = s.queue[1:]
		s.droppedPending++
		metrics.SubscriptionNotificationsDropped.Inc()
	}
	s.queue = append(s.queue, it)
	metrics.SubscriptionQueueDepth.Observe(float64(len(s.queue)))

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) terminate(it Item) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, it)
	s.closed = true
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next blocks until an item is available, the subscription closes with no
// further items, or ctx is canceled. A pending Dropped(count) notice is
// always surfaced before the next queued item, coalescing however many
// notifications were evicted in the meantime (§4.6 "oldest undelivered
// notification is dropped... Dropped(count) notice is merged into the
// stream").
func (s *Subscription) Next(ctx context.Context) (Item, bool) {
	for {
		s.mu.Lock()
		if s.droppedPending > 0 {
			d := s.droppedPending
			s.droppedPending = 0
			s.mu.Unlock()
			return Item{Kind: ItemDropped, Dropped: d}, true
		}
		if len(s.queue) > 0 {
			it := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return it, true
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return Item{}, false
		}

		select {
		case <-s.signal:
		case <-ctx.Done():
			return Item{}, false
		}
	}
}

// Registry owns every live subscription, keyed by subscription_id.
type Registry struct {
	publisher  Publisher
	queueDepth int

	mu   sync.Mutex
	subs map[string]*Subscription
}

// New creates a Registry that publishes outbound envelopes via pub.
func New(pub Publisher, queueDepth int) *Registry {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	return &Registry{
		publisher:  pub,
		queueDepth: queueDepth,
		subs:       make(map[string]*Subscription),
	}
}

// Open allocates a new subscription and returns it along with an
// EffectSink a runtime.Conversation's Spawn call can use directly. The
// conversation id a Start* call generates internally is usually not known
// yet when Open is called, so conversationID may be "" here; the caller
// sets sub.ConversationID once Start* returns it. The sink removes the
// subscription's registry entry itself once the conversation reaches a
// terminal state.
func (reg *Registry) Open(conversationID string) (*Subscription, EffectSinkAdapter) {
	sub := newSubscription(uuid.NewString(), conversationID, reg.queueDepth)

	reg.mu.Lock()
	reg.subs[sub.ID] = sub
	reg.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()

	sink := EffectSinkAdapter{
		sub:        sub,
		publisher:  reg.publisher,
		onTerminal: func() { reg.remove(sub.ID) },
	}
	return sub, sink
}

// Get returns the subscription for id, if any.
func (reg *Registry) Get(id string) (*Subscription, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	sub, ok := reg.subs[id]
	return sub, ok
}

// Close removes id from the registry and marks its queue terminal, for
// client-initiated unsubscribe (it does not cancel the underlying
// conversation; callers that need that must also call runtime.Cancel).
func (reg *Registry) Close(id string) error {
	reg.mu.Lock()
	sub, ok := reg.subs[id]
	if ok {
		delete(reg.subs, id)
	}
	reg.mu.Unlock()

	if !ok {
		return errors.New(errors.ErrorTypeClientFault, "UNKNOWN_SUBSCRIPTION", "no such subscription")
	}

	sub.terminate(Item{Kind: ItemErr, Err: errors.New(errors.ErrorTypeUserDecision, "UNSUBSCRIBED", "client closed the subscription")})
	metrics.ActiveSubscriptions.Dec()
	return nil
}

// remove is the internal counterpart Close uses once a conversation
// reaches a terminal state on its own (via EffectSinkAdapter.CompleteOk/
// CompleteErr), so the registry's map entry does not outlive the stream.
func (reg *Registry) remove(id string) {
	reg.mu.Lock()
	_, ok := reg.subs[id]
	if ok {
		delete(reg.subs, id)
	}
	reg.mu.Unlock()
	if ok {
		metrics.ActiveSubscriptions.Dec()
	}
}

// EffectSinkAdapter implements runtime.EffectSink by pushing onto a
// Subscription's queue and delegating publishes to the Registry's
// Publisher. It is declared here (rather than imported from
// internal/runtime) to avoid a runtime<->registry import cycle; its
// method set satisfies runtime.EffectSink structurally.
type EffectSinkAdapter struct {
	sub        *Subscription
	publisher  Publisher
	onTerminal func()
}

func (a EffectSinkAdapter) PublishEnvelope(recipient string, env envelope.Envelope) error {
	return a.publisher.PublishEnvelope(recipient, env)
}

func (a EffectSinkAdapter) EmitNotification(payload any) {
	a.sub.push(Item{Kind: ItemNotification, Payload: payload})
}

func (a EffectSinkAdapter) CompleteOk(result any) {
	a.sub.terminate(Item{Kind: ItemOk, Result: result})
	if a.onTerminal != nil {
		a.onTerminal()
	}
}

func (a EffectSinkAdapter) CompleteErr(err error) {
	a.sub.terminate(Item{Kind: ItemErr, Err: err})
	if a.onTerminal != nil {
		a.onTerminal()
	}
}
