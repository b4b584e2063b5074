package runtime

import (
	"testing"
	"time"

	"github.com/Shugur-Network/portal/internal/envelope"
)

// fakeConversation is a minimal Conversation used to exercise the
// scheduler without pulling in any real protocol state machine.
type fakeConversation struct {
	deadline   time.Time
	onEvent    func(*envelope.Inbound, EffectSink)
	onTimer    func(time.Time, EffectSink)
	onCancel   func(EffectSink)
	onClientIn func(any, EffectSink)
}

func (f *fakeConversation) Deadline() time.Time { return f.deadline }

func (f *fakeConversation) OnEvent(in *envelope.Inbound, sink EffectSink) {
	if f.onEvent != nil {
		f.onEvent(in, sink)
	}
}

func (f *fakeConversation) OnTimer(firedAt time.Time, sink EffectSink) {
	if f.onTimer != nil {
		f.onTimer(firedAt, sink)
	}
}

func (f *fakeConversation) OnCancel(sink EffectSink) {
	if f.onCancel != nil {
		f.onCancel(sink)
	}
}

func (f *fakeConversation) OnClientIntent(payload any, sink EffectSink) {
	if f.onClientIn != nil {
		f.onClientIn(payload, sink)
	}
}

// recordingSink captures every effect so tests can assert on them.
type recordingSink struct {
	published     []string
	notifications []any
	okResult      any
	errResult     error
	done          chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{})}
}

func (s *recordingSink) PublishEnvelope(recipient string, env envelope.Envelope) error {
	s.published = append(s.published, recipient)
	return nil
}

func (s *recordingSink) EmitNotification(payload any) {
	s.notifications = append(s.notifications, payload)
}

func (s *recordingSink) CompleteOk(result any) {
	s.okResult = result
	close(s.done)
}

func (s *recordingSink) CompleteErr(err error) {
	s.errResult = err
	close(s.done)
}

func waitDone(t *testing.T, s *recordingSink) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for conversation to terminate")
	}
}

func TestSpawnDeliverClientIntentCompletesOk(t *testing.T) {
	rt := New(Config{})
	sink := newRecordingSink()

	conv := &fakeConversation{
		deadline: time.Now().Add(time.Hour),
		onClientIn: func(payload any, s EffectSink) {
			s.CompleteOk(payload)
		},
	}

	if err := rt.Spawn("conv-1", "test_kind", conv, sink, nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !rt.Deliver("conv-1", Message{Kind: MsgClientIntent, Intent: "hello"}) {
		t.Fatal("Deliver returned false for a live conversation")
	}

	waitDone(t, sink)
	if sink.okResult != "hello" {
		t.Fatalf("expected okResult %q, got %v", "hello", sink.okResult)
	}
}

func TestCancelInvokesOnCancelAndTerminates(t *testing.T) {
	rt := New(Config{})
	sink := newRecordingSink()

	canceled := make(chan struct{})
	conv := &fakeConversation{
		deadline: time.Now().Add(time.Hour),
		onCancel: func(s EffectSink) {
			close(canceled)
		},
	}

	if err := rt.Spawn("conv-2", "test_kind", conv, sink, nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	rt.Cancel("conv-2")

	waitDone(t, sink)
	select {
	case <-canceled:
	default:
		t.Fatal("OnCancel was not invoked")
	}
	if sink.errResult == nil {
		t.Fatal("expected CompleteErr to be invoked for a canceled conversation that did not self-terminate")
	}
}

func TestDeadlineWithoutGraceResponseForcesTimeoutErr(t *testing.T) {
	rt := New(Config{DeadlineGrace: 20 * time.Millisecond})
	sink := newRecordingSink()

	conv := &fakeConversation{
		deadline: time.Now().Add(10 * time.Millisecond),
		onTimer: func(firedAt time.Time, s EffectSink) {
			// Deliberately does not complete — simulates a conversation
			// that ignores its own deadline tick.
		},
	}

	if err := rt.Spawn("conv-3", "test_kind", conv, sink, nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	waitDone(t, sink)
	if sink.errResult == nil {
		t.Fatal("expected a forced timeout error once grace elapsed")
	}
}

func TestOnDoneCalledAfterTermination(t *testing.T) {
	rt := New(Config{})
	sink := newRecordingSink()
	onDoneCalled := make(chan struct{})

	conv := &fakeConversation{
		deadline: time.Now().Add(time.Hour),
		onClientIn: func(payload any, s EffectSink) {
			s.CompleteOk(nil)
		},
	}

	if err := rt.Spawn("conv-4", "test_kind", conv, sink, func() { close(onDoneCalled) }); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	rt.Deliver("conv-4", Message{Kind: MsgClientIntent})

	waitDone(t, sink)
	select {
	case <-onDoneCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("onDone was never called")
	}
	if rt.ActiveCount() != 0 {
		t.Fatalf("expected 0 active conversations after termination, got %d", rt.ActiveCount())
	}
}

func TestSpawnRejectsDuplicateID(t *testing.T) {
	rt := New(Config{})
	sink := newRecordingSink()
	conv := &fakeConversation{deadline: time.Now().Add(time.Hour)}

	if err := rt.Spawn("dup", "test_kind", conv, sink, nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer rt.Cancel("dup")

	if err := rt.Spawn("dup", "test_kind", conv, newRecordingSink(), nil); err == nil {
		t.Fatal("expected an error spawning a second conversation under the same id")
	}
}

func TestSpawnRejectsOverCapacity(t *testing.T) {
	rt := New(Config{MaxConversations: 1})
	sink := newRecordingSink()
	conv := &fakeConversation{deadline: time.Now().Add(time.Hour)}

	if err := rt.Spawn("only", "test_kind", conv, sink, nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer rt.Cancel("only")

	if err := rt.Spawn("second", "test_kind", conv, newRecordingSink(), nil); err == nil {
		t.Fatal("expected a capacity error with MaxConversations already reached")
	}
}

func TestDeliverToUnknownConversationReturnsFalse(t *testing.T) {
	rt := New(Config{})
	if rt.Deliver("nonexistent", Message{Kind: MsgCancel}) {
		t.Fatal("expected Deliver to return false for an unknown conversation id")
	}
}
