package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Shugur-Network/portal/internal/clientapi"
	"github.com/Shugur-Network/portal/internal/config"
	"github.com/Shugur-Network/portal/internal/identity"
	"github.com/Shugur-Network/portal/internal/jwtauth"
	"github.com/Shugur-Network/portal/internal/logger"
	"github.com/Shugur-Network/portal/internal/mint"
	"github.com/Shugur-Network/portal/internal/nip05"
	"github.com/Shugur-Network/portal/internal/registry"
	"github.com/Shugur-Network/portal/internal/relaypool"
	"github.com/Shugur-Network/portal/internal/router"
	"github.com/Shugur-Network/portal/internal/runtime"
)

const nip05ResolveTimeout = 10 * time.Second

// Builder incrementally constructs an App, mirroring the staged
// NodeBuilder construction: each BuildX step can fail independently, and
// Build() refuses to assemble an App out of a partially-built Builder.
type Builder struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config

	id         *identity.Identity
	delegation *identity.DelegationProof
	pool       *relaypool.Pool
	rtr        *router.Router
	rt         *runtime.Runtime
	reg        *registry.Registry
	services   *clientapi.Services
	server     *clientapi.Server
}

// NewBuilder creates a Builder with its own cancelable context, derived
// from ctx so a single Shutdown cancels every component's background work.
func NewBuilder(ctx context.Context, cfg *config.Config) *Builder {
	c, cancel := context.WithCancel(ctx)
	return &Builder{ctx: c, cancel: cancel, cfg: cfg}
}

// BuildIdentity loads the server's Nostr keypair and, when configured, its
// NIP-26 subkey delegation proof.
func (b *Builder) BuildIdentity() error {
	id, err := identity.New(b.cfg.Nostr.PrivateKey)
	if err != nil {
		b.cancel()
		return fmt.Errorf("failed building identity: %w", err)
	}
	b.id = id

	if b.cfg.Nostr.SubkeyProof != "" {
		proof, err := identity.ParseSubkeyProof(b.cfg.Nostr.SubkeyProof)
		if err != nil {
			b.cancel()
			return fmt.Errorf("failed parsing subkey proof: %w", err)
		}
		b.delegation = proof
	}
	return nil
}

// BuildRelayPool constructs the relay pool; the configured relays are added
// to it by App.Start.
func (b *Builder) BuildRelayPool() error {
	pool, err := relaypool.NewPool(b.ctx, relaypool.Config{
		ReconnectBaseDelay: b.cfg.Nostr.ReconnectBaseDelay,
		ReconnectMaxDelay:  b.cfg.Nostr.ReconnectMaxDelay,
		PublishTimeout:     b.cfg.Nostr.PublishTimeout,
		DedupeSize:         b.cfg.Nostr.DedupeSize,
	})
	if err != nil {
		b.cancel()
		return fmt.Errorf("failed building relay pool: %w", err)
	}
	b.pool = pool
	return nil
}

// BuildRouter sets up envelope classification and dispatch to conversation
// inboxes and standing listeners. Must run after BuildIdentity/BuildRelayPool.
func (b *Builder) BuildRouter() error {
	if b.id == nil || b.pool == nil {
		return fmt.Errorf("identity and relay pool must be built before BuildRouter()")
	}
	b.rtr = router.New(b.id, b.pool, b.cfg.Nostr.ClockSkewWindow, b.cfg.Runtime.ConversationInboxSize)
	return nil
}

// BuildRuntime sets up the conversation task host.
func (b *Builder) BuildRuntime() {
	b.rt = runtime.New(runtime.Config{
		MaxConversations: b.cfg.Runtime.MaxConversations,
		InboxSize:        b.cfg.Runtime.ConversationInboxSize,
		DeadlineGrace:    b.cfg.Runtime.DeadlineGrace,
	})
}

// BuildRegistry wires the subscription registry to a relayPublisher backed
// by the pool and identity built above. Must run after
// BuildIdentity/BuildRelayPool.
func (b *Builder) BuildRegistry() error {
	if b.id == nil || b.pool == nil {
		return fmt.Errorf("identity and relay pool must be built before BuildRegistry()")
	}
	pub := newRelayPublisher(b.id, b.pool, b.delegation)
	b.reg = registry.New(pub, b.cfg.Runtime.SubscriptionQueueDepth)
	return nil
}

// BuildServices assembles the clientapi.Services bundle every session
// dispatches commands against. Must run after BuildIdentity, BuildRelayPool,
// BuildRouter, BuildRuntime and BuildRegistry, and before BuildClientServer.
func (b *Builder) BuildServices() error {
	if b.id == nil || b.rt == nil || b.rtr == nil || b.reg == nil || b.pool == nil {
		return fmt.Errorf("identity, runtime, router, registry and relay pool must be built before BuildServices()")
	}

	w, err := buildWallet(b.cfg.Wallet)
	if err != nil {
		b.cancel()
		return fmt.Errorf("failed building wallet adapter: %w", err)
	}

	b.services = &clientapi.Services{
		ServerID:        b.id,
		PreferredRelays: b.cfg.Nostr.Relays,
		AuthToken:       b.cfg.Auth.AuthToken,
		Runtime:         b.rt,
		Router:          b.rtr,
		Registry:        b.reg,
		Pool:            b.pool,
		Wallet:          w,
		Mint:            mint.NewHTTPClient(),
		JWTIssuer:       jwtauth.New(b.id),
		Nip05Resolver:   nip05.New(nip05ResolveTimeout),
	}
	return nil
}

// BuildClientServer wraps Services in the client-facing WebSocket server.
func (b *Builder) BuildClientServer() error {
	if b.services == nil {
		return fmt.Errorf("services must be built before BuildClientServer()")
	}
	b.server = clientapi.NewServer(b.services, b.cfg.Transport.MaxSessions, b.cfg.Transport.SessionSendBuffer)
	return nil
}

// Build finalizes construction into a ready-to-run App.
func (b *Builder) Build() (*App, error) {
	if b.id == nil {
		return nil, fmt.Errorf("identity must be built before calling Build()")
	}
	if b.pool == nil {
		return nil, fmt.Errorf("relay pool must be built before calling Build()")
	}
	if b.rtr == nil {
		return nil, fmt.Errorf("router must be built before calling Build()")
	}
	if b.rt == nil {
		return nil, fmt.Errorf("runtime must be built before calling Build()")
	}
	if b.reg == nil {
		return nil, fmt.Errorf("registry must be built before calling Build()")
	}
	if b.server == nil {
		return nil, fmt.Errorf("client server must be built before calling Build()")
	}

	logger.Info("app built successfully", zap.String("pubkey", b.id.PublicKeyHex))

	return &App{
		ctx:       b.ctx,
		cancel:    b.cancel,
		cfg:       b.cfg,
		id:        b.id,
		pool:      b.pool,
		rtr:       b.rtr,
		rt:        b.rt,
		reg:       b.reg,
		services:  b.services,
		server:    b.server,
		startTime: time.Now(),
	}, nil
}

// New runs every build step in order and returns the assembled App, the
// way application.New drives NodeBuilder end to end.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	b := NewBuilder(ctx, cfg)

	if err := b.BuildIdentity(); err != nil {
		return nil, err
	}
	if err := b.BuildRelayPool(); err != nil {
		return nil, err
	}
	if err := b.BuildRouter(); err != nil {
		return nil, err
	}
	b.BuildRuntime()
	if err := b.BuildRegistry(); err != nil {
		return nil, err
	}
	if err := b.BuildServices(); err != nil {
		return nil, err
	}
	if err := b.BuildClientServer(); err != nil {
		return nil, err
	}

	return b.Build()
}
