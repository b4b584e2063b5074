// Package router implements the Message Router (§4.3): the single reader
// of the relay pool's merged stream, classifying and dispatching each
// event to the conversation (or standing listener) that owns it.
package router

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/identity"
	"github.com/Shugur-Network/portal/internal/logger"
	"github.com/Shugur-Network/portal/internal/metrics"
	"github.com/Shugur-Network/portal/internal/relaypool"
)

// dedupeKey identifies an envelope for the duplicate-suppression rule in
// §3: "a duplicate envelope with the same (author, correlation, subkind)
// is dropped."
type dedupeKey struct {
	author        string
	correlationID string
	subkind       envelope.Subkind
}

// entry is one claimed correlation_id: the inbox a live conversation
// reads from, plus its own small LRU of recently-seen envelopes.
type entry struct {
	inbox  chan *envelope.Inbound
	recent *lru.Cache[dedupeKey, struct{}]
}

// Listener is a standing match installed by a conversation that wants to
// receive unsolicited envelopes before any correlation_id is known (a
// handshake URL, or ListenClosedRecurring). Installation order breaks
// ties: the oldest matching listener claims a given envelope.
type Listener struct {
	id    uint64
	match func(*envelope.Inbound) bool
	inbox chan *envelope.Inbound
	kind  string
}

// Router is the conversation runtime's single source of inbound events.
type Router struct {
	id                  *identity.Identity
	pool                *relaypool.Pool
	clockSkewWindow     time.Duration
	dedupePerConv       int
	maxListenersPerKind int
	log                 *zap.Logger

	correlations *xsync.MapOf[string, *entry]

	mu             sync.Mutex
	listeners      []*Listener
	listenerCounts map[string]int
	nextID         uint64
}

// New creates a Router bound to pool's inbound stream, decrypting with
// id's private key.
func New(id *identity.Identity, pool *relaypool.Pool, clockSkewWindow time.Duration, dedupePerConversation int) *Router {
	if dedupePerConversation <= 0 {
		dedupePerConversation = 64
	}
	return &Router{
		id:                  id,
		pool:                pool,
		clockSkewWindow:     clockSkewWindow,
		dedupePerConv:       dedupePerConversation,
		maxListenersPerKind: 64,
		log:                 logger.New("router"),
		correlations:        xsync.NewMapOf[string, *entry](),
		listenerCounts:      make(map[string]int),
	}
}

// SetMaxListenersPerKind overrides the default standing-listener cap
// (§5 Resource caps: "max standing listeners per kind, default 64").
func (r *Router) SetMaxListenersPerKind(n int) {
	if n > 0 {
		r.maxListenersPerKind = n
	}
}

// Register claims correlation_id for a conversation, returning the inbox
// it should read from. Call Unregister when the conversation terminates.
func (r *Router) Register(correlationID string) (<-chan *envelope.Inbound, error) {
	cache, err := lru.New[dedupeKey, struct{}](r.dedupePerConv)
	if err != nil {
		return nil, err
	}
	e := &entry{inbox: make(chan *envelope.Inbound, 64), recent: cache}
	r.correlations.Store(correlationID, e)
	return e.inbox, nil
}

// Unregister releases correlation_id; no further envelopes are delivered
// for it (they fall through to standing listeners, then get dropped).
func (r *Router) Unregister(correlationID string) {
	r.correlations.Delete(correlationID)
}

// AddStandingListener installs a kind-tagged match function, enforcing the
// per-kind cap (§5). Returns a remove func the installer must call on its
// own termination.
func (r *Router) AddStandingListener(kind string, match func(*envelope.Inbound) bool) (<-chan *envelope.Inbound, func(), error) {
	r.mu.Lock()
	if r.listenerCounts[kind] >= r.maxListenersPerKind {
		current := r.listenerCounts[kind]
		r.mu.Unlock()
		return nil, nil, errors.CapacityError("standing_listeners:"+kind, current, r.maxListenersPerKind)
	}

	r.nextID++
	l := &Listener{id: r.nextID, match: match, inbox: make(chan *envelope.Inbound, 64), kind: kind}
	r.listeners = append(r.listeners, l)
	r.listenerCounts[kind]++
	r.mu.Unlock()

	metrics.StandingListeners.WithLabelValues(kind).Inc()

	remove := func() {
		r.mu.Lock()
		for i, other := range r.listeners {
			if other.id == l.id {
				r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
				r.listenerCounts[kind]--
				break
			}
		}
		r.mu.Unlock()
		metrics.StandingListeners.WithLabelValues(kind).Dec()
	}
	return l.inbox, remove, nil
}

// Run is the router's single-reader loop: it must be driven by exactly
// one goroutine for the lifetime of the pool.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, more := <-r.pool.Events():
			if !more {
				return
			}
			inbound, err := envelope.Classify(r.id, evt, r.clockSkewWindow)
			if err != nil {
				r.log.Debug("envelope classification error", zap.Error(err))
				metrics.EnvelopesDropped.WithLabelValues("classify_error").Inc()
				continue
			}
			if inbound == nil {
				metrics.EnvelopesDropped.WithLabelValues("invalid").Inc()
				continue
			}
			r.dispatch(ctx, inbound)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, inbound *envelope.Inbound) {
	key := dedupeKey{author: inbound.Author, correlationID: inbound.CorrelationID, subkind: inbound.Subkind}

	if e, ok := r.correlations.Load(inbound.CorrelationID); ok {
		if _, seen := e.recent.ContainsOrAdd(key, struct{}{}); seen {
			metrics.DuplicateEnvelopes.Inc()
			return
		}
		select {
		case e.inbox <- inbound:
			metrics.IncrementEnvelopesRouted()
		case <-ctx.Done():
		}
		return
	}

	r.mu.Lock()
	var claimed *Listener
	for _, l := range r.listeners {
		if l.match(inbound) {
			claimed = l
			break
		}
	}
	r.mu.Unlock()

	if claimed != nil {
		select {
		case claimed.inbox <- inbound:
			metrics.IncrementEnvelopesRouted()
		case <-ctx.Done():
		}
		return
	}

	metrics.EnvelopesDropped.WithLabelValues("no_match").Inc()
}
