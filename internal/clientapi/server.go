package clientapi

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Shugur-Network/portal/internal/logger"
	"github.com/Shugur-Network/portal/internal/metrics"
)

// Server accepts client WebSocket connections and hands each one to its
// own Session, enforcing the configured concurrent-session cap (§5
// Resource caps). Grounded on the teacher's
// handleWebSocketConnection/node.RegisterConn pair
// (relay/internal/relay/connection.go), adapted from a relay-wide
// connection registry to Portal's simpler per-session ownership model —
// a Session needs no cross-session coordination, so Server tracks active
// count only, not a connection-manager interface.
type Server struct {
	services   *Services
	upgrader   websocket.Upgrader
	maxSessions int
	sendBuffer  int
	log         *zap.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	active   atomic.Int64
}

// NewServer wires services into a Server ready to be mounted at an HTTP
// path via ServeHTTP.
func NewServer(services *Services, maxSessions, sendBuffer int) *Server {
	return &Server{
		services:    services,
		maxSessions: maxSessions,
		sendBuffer:  sendBuffer,
		log:         logger.New("clientapi"),
		sessions:    make(map[*Session]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs its Session until it closes.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if srv.maxSessions > 0 && int(srv.active.Load()) >= srv.maxSessions {
		http.Error(w, "server is at session capacity", http.StatusServiceUnavailable)
		return
	}

	ws, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	session := NewSession(context.Background(), ws, srv.services, srv.sendBuffer, r.RemoteAddr)
	srv.register(session)
	defer srv.unregister(session)

	session.Run()
}

func (srv *Server) register(s *Session) {
	srv.mu.Lock()
	srv.sessions[s] = struct{}{}
	srv.mu.Unlock()
	srv.active.Add(1)
	metrics.ActiveClientSessions.Inc()
}

func (srv *Server) unregister(s *Session) {
	srv.mu.Lock()
	_, ok := srv.sessions[s]
	if ok {
		delete(srv.sessions, s)
	}
	srv.mu.Unlock()
	if ok {
		srv.active.Add(-1)
		metrics.ActiveClientSessions.Dec()
	}
}

// ActiveSessionCount returns the number of currently connected client
// sessions, used by the health checker.
func (srv *Server) ActiveSessionCount() int {
	return int(srv.active.Load())
}

// Shutdown closes every currently connected session. It does not stop
// accepting new connections itself — callers should stop routing traffic
// to ServeHTTP (e.g. via http.Server.Shutdown) before calling this.
func (srv *Server) Shutdown() {
	srv.mu.Lock()
	sessions := make([]*Session, 0, len(srv.sessions))
	for s := range srv.sessions {
		sessions = append(sessions, s)
	}
	srv.mu.Unlock()

	for _, s := range sessions {
		s.Close("server shutting down")
	}
}
