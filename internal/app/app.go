// Package app ties the Relay Pool, Message Router, Conversation Runtime,
// Subscription Registry, and client-facing transport into one running
// process, the way application.Node ties together a relay's storage and
// WebSocket layers.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Shugur-Network/portal/internal/clientapi"
	"github.com/Shugur-Network/portal/internal/config"
	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/health"
	"github.com/Shugur-Network/portal/internal/identity"
	"github.com/Shugur-Network/portal/internal/logger"
	"github.com/Shugur-Network/portal/internal/metrics"
	"github.com/Shugur-Network/portal/internal/registry"
	"github.com/Shugur-Network/portal/internal/relaypool"
	"github.com/Shugur-Network/portal/internal/router"
	"github.com/Shugur-Network/portal/internal/runtime"
)

// App owns every long-lived component of a running node and its two HTTP
// listeners (client transport, metrics).
type App struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config

	id       *identity.Identity
	pool     *relaypool.Pool
	rtr      *router.Router
	rt       *runtime.Runtime
	reg      *registry.Registry
	services *clientapi.Services
	server   *clientapi.Server

	clientHTTP  *http.Server
	metricsHTTP *http.Server

	startTime time.Time
}

// Start connects the relay pool, starts the router's dispatch loop, and
// brings up the client-facing and metrics HTTP listeners. It returns once
// every background goroutine has been launched; listener errors surface
// asynchronously via logger.Error, mirroring Node.Start's fire-and-log
// pattern for its WebSocket server.
func (a *App) Start(ctx context.Context) error {
	filter := nostr.Filters{{
		Kinds: []int{envelope.Kind},
		Tags:  nostr.TagMap{"p": []string{a.id.PublicKeyHex}},
	}}
	a.pool.SetFilter(filter)
	for _, url := range a.cfg.Nostr.Relays {
		a.pool.Add(url)
	}
	metrics.ConfiguredRelays.Set(float64(len(a.cfg.Nostr.Relays)))

	go a.rtr.Run(a.ctx)

	healthChecker := health.NewHealthChecker(a, a.cfg, logger.New("health"), config.Version)

	mux := http.NewServeMux()
	mux.Handle("/", a.server)
	mux.HandleFunc("/healthz", healthChecker.HandleHealth)
	a.clientHTTP = &http.Server{Addr: a.cfg.Transport.ListenAddr, Handler: mux}
	go func() {
		if err := a.clientHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("client transport server error", zap.Error(err))
		}
	}()

	if a.cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		a.metricsHTTP = &http.Server{Addr: fmt.Sprintf(":%d", a.cfg.Metrics.Port), Handler: metricsMux}
		go func() {
			if err := a.metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	logger.Info("app started",
		zap.String("listen_addr", a.cfg.Transport.ListenAddr),
		zap.Strings("relays", a.cfg.Nostr.Relays))
	return nil
}

// Shutdown stops the client transport server and closes every session,
// then stops the metrics server, cancels the app context (stopping the
// router) and closes the relay pool. The HTTP server shutdowns share one
// General.ShutdownGrace deadline, mirroring Node.Shutdown's staged,
// best-effort teardown.
func (a *App) Shutdown() {
	logger.Info("initiating graceful shutdown...")
	grace := time.Duration(a.cfg.General.ShutdownGrace) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if a.clientHTTP != nil {
		if err := a.clientHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Warn("client transport server shutdown error", zap.Error(err))
		}
	}
	a.server.Shutdown()

	if a.metricsHTTP != nil {
		if err := a.metricsHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}

	a.cancel()
	a.pool.Close()

	logger.Info("app shutdown complete")
}

// ActiveSessionCount reports the number of connected client sessions, for
// the health checker.
func (a *App) ActiveSessionCount() int {
	return a.server.ActiveSessionCount()
}

// ActiveConversationCount reports the number of live conversation tasks,
// for the health checker.
func (a *App) ActiveConversationCount() int {
	return a.rt.ActiveCount()
}

// ConnectedRelayCount reports how many relays the pool currently holds an
// open connection to, for the health checker.
func (a *App) ConnectedRelayCount() int {
	return a.pool.ConnectedCount()
}

// StartTime returns when the App finished building, for uptime reporting.
func (a *App) StartTime() time.Time {
	return a.startTime
}
