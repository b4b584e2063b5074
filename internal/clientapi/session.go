package clientapi

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/logger"
	"github.com/Shugur-Network/portal/internal/metrics"
	"github.com/Shugur-Network/portal/internal/registry"
)

const (
	sessionIdleTimeout  = 5 * time.Minute
	sessionPingInterval = 30 * time.Second
	sessionReadLimit    = 256 * 1024
	sessionWriteTimeout = 10 * time.Second

	// Commands per second/burst allowed on a single session before
	// handleCommand starts rejecting with RateLimited, grounded on the
	// teacher's WsConnection.limiter (same "basic rate limiter" role, here
	// per-command rather than per-event).
	sessionCommandsPerSecond = 20
	sessionCommandBurst      = 40
)

// Session owns one client WebSocket connection: auth-first gating
// (§4.6 "the first command on a session must be Auth"), command dispatch,
// and fan-in of every open subscription's notifications onto the one
// outbound stream. Backpressure/ping/idempotent-close shape is grounded
// on the teacher's WsConnection (relay/internal/relay/connection.go):
// a bounded send channel that closes the connection rather than blocking
// forever when a slow client falls behind.
type Session struct {
	ws       *websocket.Conn
	services *Services
	remote   string
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	authenticated atomic.Bool

	sendCh chan ServerFrame

	writeMu sync.Mutex
	closeMu sync.Once
	closed  atomic.Bool

	subsMu sync.Mutex
	subs   map[string]context.CancelFunc

	lastActivity atomic.Int64 // unix nanos

	limiter            *rate.Limiter
	exceededLimitCount atomic.Int32
}

// NewSession wraps an already-upgraded WebSocket connection.
func NewSession(parent context.Context, ws *websocket.Conn, services *Services, sendBuffer int, remote string) *Session {
	if sendBuffer <= 0 {
		sendBuffer = 32
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ws:       ws,
		services: services,
		remote:   remote,
		log:      logger.New("clientapi"),
		ctx:      ctx,
		cancel:   cancel,
		sendCh:   make(chan ServerFrame, sendBuffer),
		subs:     make(map[string]context.CancelFunc),
		limiter:  rate.NewLimiter(rate.Limit(sessionCommandsPerSecond), sessionCommandBurst),
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// Run drives the session until the connection closes or ctx is canceled.
// It blocks; callers spawn it in its own goroutine per accepted connection.
func (s *Session) Run() {
	defer s.Close("connection ended")

	go s.writeLoop()
	go s.monitor()

	s.ws.SetReadLimit(sessionReadLimit)
	_ = s.ws.SetReadDeadline(time.Now().Add(sessionIdleTimeout))
	s.ws.SetPongHandler(func(string) error {
		s.lastActivity.Store(time.Now().UnixNano())
		return s.ws.SetReadDeadline(time.Now().Add(sessionIdleTimeout))
	})

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			return
		}
		s.lastActivity.Store(time.Now().UnixNano())

		var cmd ClientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			s.enqueue(errorFrame("", errors.ClientFaultError("MALFORMED_FRAME", "frame was not valid JSON")))
			continue
		}
		s.handleCommand(cmd)
	}
}

func (s *Session) handleCommand(cmd ClientCommand) {
	if !s.limiter.Allow() {
		if s.exceededLimitCount.Add(1) > 5 {
			s.log.Warn("session exceeded command rate limit repeatedly, closing", zap.String("remote", s.remote))
			s.Close("rate limit exceeded")
			return
		}
		s.enqueue(errorFrame(cmd.ID, errors.New(errors.ErrorTypeValidation, "RATE_LIMITED", "too many commands, slow down")))
		return
	}
	s.exceededLimitCount.Store(0)

	if cmd.Command == CmdAuth {
		s.handleAuth(cmd)
		return
	}

	if !s.authenticated.Load() {
		s.enqueue(errorFrame(cmd.ID, errors.ClientFaultError("NOT_AUTHENTICATED", "the first command on a session must be auth")))
		return
	}

	if cmd.Command == CmdSubscriptionUnsubscribe {
		s.handleUnsubscribe(cmd)
		return
	}

	metrics.CommandsReceived.WithLabelValues(cmd.Command).Inc()

	out, err := s.services.Dispatch(s.ctx, cmd.Command, cmd.Params)
	if err != nil {
		s.enqueue(errorFrame(cmd.ID, err))
		return
	}

	if out.subscriptionID != "" {
		s.attachSubscription(out.subscriptionID)
	}
	s.enqueue(successFrame(cmd.ID, out.subscriptionID, out.result))
}

type authParams struct {
	Token string `json:"token"`
}

func (s *Session) handleAuth(cmd ClientCommand) {
	var p authParams
	if err := decodeParams(cmd.Params, &p); err != nil {
		s.enqueue(errorFrame(cmd.ID, err))
		return
	}
	if p.Token == "" || p.Token != s.services.AuthToken {
		s.enqueue(errorFrame(cmd.ID, errors.ClientFaultError("INVALID_AUTH_TOKEN", "the auth token did not match")))
		return
	}
	s.authenticated.Store(true)
	s.enqueue(successFrame(cmd.ID, "", struct {
		Authenticated bool `json:"authenticated"`
	}{true}))
}

type unsubscribeParams struct {
	SubscriptionID string `json:"subscription_id"`
}

func (s *Session) handleUnsubscribe(cmd ClientCommand) {
	var p unsubscribeParams
	if err := decodeParams(cmd.Params, &p); err != nil {
		s.enqueue(errorFrame(cmd.ID, err))
		return
	}
	sub, ok := s.services.Registry.Get(p.SubscriptionID)
	if !ok {
		s.enqueue(errorFrame(cmd.ID, errors.ClientFaultError("UNKNOWN_SUBSCRIPTION", "no such subscription")))
		return
	}
	if err := s.services.Registry.Close(p.SubscriptionID); err != nil {
		s.enqueue(errorFrame(cmd.ID, err))
		return
	}
	// Registry.Close only retires the subscription's queue; the
	// conversation behind it is canceled here so its OnCancel transition
	// runs and publishes the final wire envelope (§4.4/§4.5).
	if sub.ConversationID != "" {
		s.services.Runtime.Cancel(sub.ConversationID)
	}
	s.detachSubscription(p.SubscriptionID)
	s.enqueue(successFrame(cmd.ID, p.SubscriptionID, nil))
}

// attachSubscription spawns the pump goroutine that turns a
// subscription's queued items into notification/success/error frames
// until it terminates or the session closes.
func (s *Session) attachSubscription(subscriptionID string) {
	sub, ok := s.services.Registry.Get(subscriptionID)
	if !ok {
		return
	}
	subCtx, cancel := context.WithCancel(s.ctx)

	s.subsMu.Lock()
	s.subs[subscriptionID] = cancel
	s.subsMu.Unlock()

	go s.pumpSubscription(subCtx, subscriptionID, sub)
}

func (s *Session) detachSubscription(subscriptionID string) {
	s.subsMu.Lock()
	cancel, ok := s.subs[subscriptionID]
	if ok {
		delete(s.subs, subscriptionID)
	}
	s.subsMu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Session) pumpSubscription(ctx context.Context, subscriptionID string, sub *registry.Subscription) {
	defer s.detachSubscription(subscriptionID)

	for {
		item, ok := sub.Next(ctx)
		if !ok {
			return
		}

		switch item.Kind {
		case registry.ItemNotification:
			s.enqueue(notificationFrame(subscriptionID, item.Payload))
		case registry.ItemDropped:
			s.enqueue(notificationFrame(subscriptionID, struct {
				Dropped int `json:"dropped"`
			}{item.Dropped}))
		case registry.ItemOk:
			s.enqueue(successFrame("", subscriptionID, item.Result))
			return
		case registry.ItemErr:
			s.enqueue(ServerFrame{Type: FrameError, SubscriptionID: subscriptionID, Error: toAppError(item.Err)})
			return
		}
	}
}

func toAppError(err error) *errors.AppError {
	if appErr, ok := err.(*errors.AppError); ok {
		return appErr
	}
	return errors.InternalError("subscription terminated with an unrecognized error", err)
}

// enqueue places f on the outbound channel, closing the session if the
// client has fallen far enough behind that the buffer is full — the same
// "too slow, disconnect" backpressure policy as the teacher's
// sendMessageInternal.
func (s *Session) enqueue(f ServerFrame) {
	if s.closed.Load() {
		return
	}
	select {
	case s.sendCh <- f:
	default:
		s.log.Warn("session send buffer full, closing", zap.String("remote", s.remote))
		s.Close("send buffer overflow")
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.sendCh:
			if err := s.writeFrame(f); err != nil {
				s.Close("write error")
				return
			}
		}
	}
}

func (s *Session) writeFrame(f ServerFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
	return s.ws.WriteJSON(f)
}

func (s *Session) monitor() {
	ticker := time.NewTicker(sessionPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.ws.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
			err := s.ws.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.Close("ping failed")
				return
			}
			if time.Since(time.Unix(0, s.lastActivity.Load())) > sessionIdleTimeout {
				s.Close("idle timeout")
				return
			}
		}
	}
}

// Close tears the session down exactly once: every owned conversation is
// canceled and its subscription detached, the connection is closed with a
// polite close frame where possible, and the session's context is
// canceled so writeLoop/monitor and every pump goroutine exit. Canceling
// on disconnect (§4.6 "the registry cancels all owned conversations")
// matters most for a conversation with no deadline of its own, such as a
// static KeyHandshake, which would otherwise run forever.
func (s *Session) Close(reason string) {
	s.closeMu.Do(func() {
		s.closed.Store(true)

		s.subsMu.Lock()
		subs := s.subs
		s.subs = make(map[string]context.CancelFunc)
		s.subsMu.Unlock()
		for subscriptionID, cancel := range subs {
			if sub, ok := s.services.Registry.Get(subscriptionID); ok && sub.ConversationID != "" {
				s.services.Runtime.Cancel(sub.ConversationID)
			}
			cancel()
		}

		s.writeMu.Lock()
		_ = s.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
		s.writeMu.Unlock()

		s.cancel()
		_ = s.ws.Close()
	})
}
