// Package relaypool implements the Relay Pool (§4.1): persistent
// connections to a dynamic set of relay URLs, fan-out publish with
// first-ack-wins semantics, and one deduplicated merged inbound stream.
package relaypool

import (
	"context"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/logger"
	"github.com/Shugur-Network/portal/internal/metrics"
)

// Config bundles the tunables relaypool needs, a narrow slice of
// config.NostrConfig so this package doesn't import the whole config tree.
type Config struct {
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	PublishTimeout     time.Duration
	DedupeSize         int
}

// relayState tracks one desired relay connection's private goroutine.
type relayState struct {
	cancel context.CancelFunc
}

// Pool owns every outbound relay connection. Relay management is
// single-writer per relay (each relay's goroutine is the only writer to
// its *nostr.Relay); the desired/live maps shared across relays are guarded
// by one RWMutex, which suffices since adds/removes are rare compared to
// the steady-state read path, which only ranges live connections.
type Pool struct {
	cfg    Config
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	desired map[string]*relayState
	live    map[string]*nostr.Relay

	dedupe *lru.Cache[string, struct{}]

	events chan *nostr.Event
	filter nostr.Filters
}

// NewPool creates a Pool with no relays yet connected. Call SetFilter
// before Add, and Add for every relay URL the configuration names.
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = 10000
	}
	cache, err := lru.New[string, struct{}](cfg.DedupeSize)
	if err != nil {
		return nil, errors.CryptoError("failed to allocate dedupe cache", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Pool{
		cfg:     cfg,
		log:     logger.New("relaypool"),
		ctx:     ctx,
		cancel:  cancel,
		desired: make(map[string]*relayState),
		live:    make(map[string]*nostr.Relay),
		dedupe:  cache,
		events:  make(chan *nostr.Event, 256),
	}, nil
}

// SetFilter installs the filter every relay connection subscribes with.
// Portal uses a single filter for its whole lifetime (kind=envelope.Kind,
// since=startup); router-level routing, not relay-level filtering,
// decides which conversation an event belongs to.
func (p *Pool) SetFilter(filter nostr.Filters) {
	p.mu.Lock()
	p.filter = filter
	p.mu.Unlock()
}

// Events returns the pool's single merged, deduplicated inbound stream.
func (p *Pool) Events() <-chan *nostr.Event {
	return p.events
}

// Add starts (or restarts) a persistent connection to url. Idempotent.
func (p *Pool) Add(url string) {
	url = nostr.NormalizeURL(url)

	p.mu.Lock()
	if _, exists := p.desired[url]; exists {
		p.mu.Unlock()
		return
	}
	relayCtx, cancel := context.WithCancel(p.ctx)
	p.desired[url] = &relayState{cancel: cancel}
	p.mu.Unlock()

	metrics.ConfiguredRelays.Inc()
	go p.run(relayCtx, url)
}

// Remove tears down url's connection immediately; any in-flight
// subscription on it ends cleanly.
func (p *Pool) Remove(url string) {
	url = nostr.NormalizeURL(url)

	p.mu.Lock()
	state, exists := p.desired[url]
	if exists {
		delete(p.desired, url)
		delete(p.live, url)
	}
	p.mu.Unlock()

	if exists {
		state.cancel()
		metrics.ConfiguredRelays.Dec()
	}
}

// Close tears down every connection and stops the pool.
func (p *Pool) Close() {
	p.cancel()
}

// run is the single-writer goroutine for one relay: connect, subscribe,
// forward events, and reconnect with jittered exponential backoff on any
// failure, until relayCtx is canceled (by Remove or Close).
func (p *Pool) run(relayCtx context.Context, url string) {
	delay := p.cfg.ReconnectBaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := p.cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}

	for {
		select {
		case <-relayCtx.Done():
			return
		default:
		}

		connectCtx, connectCancel := context.WithTimeout(relayCtx, 15*time.Second)
		relay, err := nostr.RelayConnect(connectCtx, url)
		connectCancel()
		if err != nil {
			p.log.Warn("relay connect failed", zap.String("url", url), zap.Error(err))
			metrics.RelayReconnects.WithLabelValues(url).Inc()
			if !p.sleepBackoff(relayCtx, &delay, maxDelay) {
				return
			}
			continue
		}

		p.mu.Lock()
		p.live[url] = relay
		p.mu.Unlock()
		metrics.ActiveRelayConnections.Inc()
		delay = p.cfg.ReconnectBaseDelay
		if delay <= 0 {
			delay = time.Second
		}

		p.pump(relayCtx, url, relay)

		p.mu.Lock()
		delete(p.live, url)
		p.mu.Unlock()
		metrics.ActiveRelayConnections.Dec()

		select {
		case <-relayCtx.Done():
			return
		default:
		}
		if !p.sleepBackoff(relayCtx, &delay, maxDelay) {
			return
		}
	}
}

// pump subscribes on relay and forwards deduplicated events until the
// subscription ends (relay disconnect, CLOSED, or context cancellation).
func (p *Pool) pump(relayCtx context.Context, url string, relay *nostr.Relay) {
	p.mu.RLock()
	filter := p.filter
	p.mu.RUnlock()

	sub, err := relay.Subscribe(relayCtx, filter)
	if err != nil {
		p.log.Warn("relay subscribe failed", zap.String("url", url), zap.Error(err))
		return
	}

	for {
		select {
		case <-relayCtx.Done():
			return
		case reason, ok := <-sub.ClosedReason:
			if ok {
				p.log.Debug("relay closed subscription", zap.String("url", url), zap.String("reason", reason))
			}
			return
		case evt, more := <-sub.Events:
			if !more {
				return
			}
			if _, seen := p.dedupe.ContainsOrAdd(evt.ID, struct{}{}); seen {
				metrics.DuplicateEnvelopes.Inc()
				continue
			}
			select {
			case p.events <- evt:
			case <-relayCtx.Done():
				return
			}
		}
	}
}

func (p *Pool) sleepBackoff(ctx context.Context, delay *time.Duration, maxDelay time.Duration) bool {
	jitter := 1 + (rand.Float64()*0.4 - 0.2) // +/-20%
	wait := time.Duration(float64(*delay) * jitter)

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return false
	}

	next := *delay * 2
	if next > maxDelay {
		next = maxDelay
	}
	*delay = next
	return true
}

// Publish fans evt out to every currently connected relay in parallel and
// resolves on the first acknowledgment, per §4.1.
func (p *Pool) Publish(ctx context.Context, evt *nostr.Event) error {
	p.mu.RLock()
	relays := make([]*nostr.Relay, 0, len(p.live))
	for _, r := range p.live {
		relays = append(relays, r)
	}
	p.mu.RUnlock()

	if len(relays) == 0 {
		return errors.NoRelaysAvailableError()
	}

	timeout := p.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	publishCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := make(chan error, len(relays))
	for _, relay := range relays {
		go func(r *nostr.Relay) {
			result <- r.Publish(publishCtx, *evt)
		}(relay)
	}

	var lastErr error
	for range relays {
		select {
		case err := <-result:
			if err == nil {
				metrics.PublishLatency.Observe(time.Since(start).Seconds())
				metrics.EventsPublished.WithLabelValues("ok").Inc()
				return nil
			}
			lastErr = err
		case <-publishCtx.Done():
			metrics.EventsPublished.WithLabelValues("timeout").Inc()
			return errors.PublishTimeoutError(evt.ID)
		}
	}

	metrics.EventsPublished.WithLabelValues("error").Inc()
	return errors.TransportError("all relays", lastErr)
}

// ConnectedCount returns the number of relays currently connected, used by
// the health checker and by tests asserting pool membership.
func (p *Pool) ConnectedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.live)
}

// QueryRecent runs a one-off, ad hoc subscription against every currently
// connected relay for filter, collects whatever arrives within window, and
// returns the most recent matching event (nil if none arrived). This is
// separate from the pool's single persistent envelope-kind subscription
// (SetFilter/pump); it exists for ProfileFetch's kind-0 metadata lookup,
// grounded on the one-off query idiom of
// other_examples/f9108d7d_asmogo-nws__protocol-pool.go.go's
// SubManyEose/QuerySingle (collect-until-EOSE-or-timeout across many
// relays, return the best candidate), adapted here to "most recent by
// created_at" since profile metadata can arrive from several relays with
// differing freshness.
func (p *Pool) QueryRecent(ctx context.Context, filter nostr.Filter, window time.Duration) *nostr.Event {
	p.mu.RLock()
	relays := make([]*nostr.Relay, 0, len(p.live))
	for _, r := range p.live {
		relays = append(relays, r)
	}
	p.mu.RUnlock()
	if len(relays) == 0 {
		return nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	results := make(chan *nostr.Event, len(relays)*4)
	var wg sync.WaitGroup
	for _, relay := range relays {
		wg.Add(1)
		go func(r *nostr.Relay) {
			defer wg.Done()
			sub, err := r.Subscribe(queryCtx, nostr.Filters{filter})
			if err != nil {
				return
			}
			for {
				select {
				case evt, ok := <-sub.Events:
					if !ok {
						return
					}
					select {
					case results <- evt:
					case <-queryCtx.Done():
						return
					}
				case <-queryCtx.Done():
					return
				}
			}
		}(relay)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var best *nostr.Event
	for evt := range results {
		if best == nil || evt.CreatedAt > best.CreatedAt {
			best = evt
		}
	}
	return best
}
