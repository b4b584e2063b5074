// Package runtime implements the Conversation Runtime (§4.4): a scheduler
// hosting many concurrent conversations, each pinned to its own goroutine
// for its lifetime, driven by a bounded inbound channel and a wall-clock
// deadline with a grace window.
package runtime

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/logger"
	"github.com/Shugur-Network/portal/internal/metrics"
)

// EffectSink is the outbound side of a conversation (§4.4): the only way a
// Conversation affects the outside world. Implementations are supplied by
// the caller of Spawn (ordinarily internal/registry, wiring notifications
// and terminal results onto a client subscription).
type EffectSink interface {
	PublishEnvelope(recipient string, env envelope.Envelope) error
	EmitNotification(payload any)
	CompleteOk(result any)
	CompleteErr(err error)
}

// Conversation is the uniform trait every protocol state machine in
// internal/convo implements. Tagged-variant dispatch lives one level up,
// in how each kind constructs its Conversation value — this interface
// itself carries no protocol-specific branching, per spec.md's "uniform
// trait... do not use inheritance" guidance.
type Conversation interface {
	Deadline() time.Time
	OnEvent(in *envelope.Inbound, sink EffectSink)
	OnTimer(firedAt time.Time, sink EffectSink)
	OnCancel(sink EffectSink)
	OnClientIntent(payload any, sink EffectSink)
}

// MessageKind discriminates the inbound channel's message union.
type MessageKind int

const (
	MsgEvent MessageKind = iota
	MsgTimer
	MsgClientIntent
	MsgCancel
)

// Message is the typed union delivered to a conversation's inbox:
// Event(envelope), Timer(fired_at), ClientIntent(payload), or Cancel.
type Message struct {
	Kind    MessageKind
	Event   *envelope.Inbound
	FiredAt time.Time
	Intent  any
}

// Config bundles the scheduler-wide tunables (§5 Resource caps).
type Config struct {
	MaxConversations int
	InboxSize        int
	DeadlineGrace    time.Duration
}

// Runtime hosts every live conversation task.
type Runtime struct {
	cfg Config
	log *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*task

	active atomic.Int64
}

type task struct {
	id    string
	kind  string
	conv  Conversation
	inbox chan Message
	stop  chan struct{}
}

// New creates a Runtime with the given resource caps.
func New(cfg Config) *Runtime {
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = 4096
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}
	if cfg.DeadlineGrace <= 0 {
		cfg.DeadlineGrace = 5 * time.Second
	}
	return &Runtime{
		cfg:   cfg,
		log:   logger.New("runtime"),
		tasks: make(map[string]*task),
	}
}

// Spawn starts a new conversation task under id, pinned to its own
// goroutine for its lifetime. onDone is called (if non-nil) exactly once,
// after the conversation task has fully exited and been removed from the
// runtime's table — the caller's cue to release any of its own state
// (e.g. the router correlation-id registration).
func (rt *Runtime) Spawn(id, kind string, conv Conversation, sink EffectSink, onDone func()) error {
	if rt.active.Load() >= int64(rt.cfg.MaxConversations) {
		return errors.CapacityError("conversations", int(rt.active.Load()), rt.cfg.MaxConversations)
	}

	t := &task{
		id:    id,
		kind:  kind,
		conv:  conv,
		inbox: make(chan Message, rt.cfg.InboxSize),
		stop:  make(chan struct{}),
	}

	rt.mu.Lock()
	if _, exists := rt.tasks[id]; exists {
		rt.mu.Unlock()
		return errors.ProtocolError(id, "conversation id already in use")
	}
	rt.tasks[id] = t
	rt.mu.Unlock()

	rt.active.Add(1)
	metrics.IncrementConversationsStarted(kind)

	go rt.run(t, sink, onDone)
	return nil
}

// Deliver routes msg to id's inbox, applying backpressure (the caller
// blocks, yielding, until there is room) rather than dropping. Returns
// false if no such conversation is currently live.
func (rt *Runtime) Deliver(id string, msg Message) bool {
	rt.mu.RLock()
	t, ok := rt.tasks[id]
	rt.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case t.inbox <- msg:
		return true
	case <-t.stop:
		return false
	}
}

// Cancel delivers a Cancel message to id, triggering its orderly shutdown.
func (rt *Runtime) Cancel(id string) {
	rt.Deliver(id, Message{Kind: MsgCancel})
}

// ActiveCount returns the number of currently running conversations.
func (rt *Runtime) ActiveCount() int {
	return int(rt.active.Load())
}

// run drives one conversation task until termination: a Cancel message,
// an explicit terminal effect, or a deadline left unhandled past grace.
func (rt *Runtime) run(t *task, sink EffectSink, onDone func()) {
	wrapped := &terminalSink{EffectSink: sink, terminal: make(chan struct{})}

	defer func() {
		if r := recover(); r != nil {
			rt.log.Error("conversation task panicked, converting to terminal error",
				zap.String("conversation_id", t.id), zap.Any("panic", r))
			wrapped.CompleteErr(errors.New(errors.ErrorTypeInternal, "CONVERSATION_PANIC", "conversation task panicked"))
		}

		rt.mu.Lock()
		delete(rt.tasks, t.id)
		rt.mu.Unlock()
		close(t.stop)
		rt.active.Add(-1)
		metrics.IncrementConversationsCompleted(t.kind)

		if onDone != nil {
			onDone()
		}
	}()

	deadlineTimer := time.NewTimer(time.Until(t.conv.Deadline()))
	defer deadlineTimer.Stop()

	var graceTimer *time.Timer
	var graceCh <-chan time.Time

	for {
		select {
		case <-wrapped.terminal:
			return

		case msg := <-t.inbox:
			switch msg.Kind {
			case MsgEvent:
				t.conv.OnEvent(msg.Event, wrapped)
			case MsgTimer:
				t.conv.OnTimer(msg.FiredAt, wrapped)
			case MsgClientIntent:
				t.conv.OnClientIntent(msg.Intent, wrapped)
			case MsgCancel:
				t.conv.OnCancel(wrapped)
				if !wrapped.isTerminal() {
					wrapped.CompleteErr(errors.New(errors.ErrorTypeInternal, "CANCELED", "conversation canceled"))
				}
				return
			}

		case <-deadlineTimer.C:
			t.conv.OnTimer(time.Now(), wrapped)
			if wrapped.isTerminal() {
				return
			}
			graceTimer = time.NewTimer(rt.cfg.DeadlineGrace)
			graceCh = graceTimer.C

		case <-graceCh:
			wrapped.CompleteErr(errors.ConversationTimeoutError(t.id))
			return
		}

		if graceTimer != nil && wrapped.isTerminal() {
			graceTimer.Stop()
		}
	}
}

// terminalSink decorates a caller-supplied EffectSink so the runtime can
// detect, exactly once, that a conversation reached CompleteOk/CompleteErr.
type terminalSink struct {
	EffectSink
	once     sync.Once
	terminal chan struct{}
	done     atomic.Bool
}

func (w *terminalSink) isTerminal() bool {
	return w.done.Load()
}

func (w *terminalSink) CompleteOk(result any) {
	w.EffectSink.CompleteOk(result)
	w.markDone()
}

func (w *terminalSink) CompleteErr(err error) {
	w.EffectSink.CompleteErr(err)
	w.markDone()
}

func (w *terminalSink) markDone() {
	w.once.Do(func() {
		w.done.Store(true)
		close(w.terminal)
	})
}
