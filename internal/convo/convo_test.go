package convo

import (
	"strings"
	"testing"
	"time"

	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/identity"
)

// Two fixed, valid secp256k1 scalars used as test identities throughout
// this package's tests, distinguished only by their low byte.
var (
	testServerKeyHex = strings.Repeat("0", 63) + "1"
	testPeerKeyHex   = strings.Repeat("0", 63) + "2"
)

func newTestIdentity(t *testing.T, privKeyHex string) *identity.Identity {
	t.Helper()
	id, err := identity.New(privKeyHex)
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	return id
}

type publishedEnvelope struct {
	recipient string
	env       envelope.Envelope
}

// fakeSink is an EffectSink whose PublishEnvelope/EmitNotification calls
// land on channels, so a test can block on the next effect rather than
// polling, and whose CompleteOk/CompleteErr close done exactly once —
// the same shape as runtime's own recordingSink, adapted for the
// multi-effect flows a protocol state machine produces.
type fakeSink struct {
	notifyCh  chan any
	publishCh chan publishedEnvelope
	done      chan struct{}
	okResult  any
	errResult error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		notifyCh:  make(chan any, 8),
		publishCh: make(chan publishedEnvelope, 8),
		done:      make(chan struct{}),
	}
}

func (s *fakeSink) PublishEnvelope(recipient string, env envelope.Envelope) error {
	s.publishCh <- publishedEnvelope{recipient, env}
	return nil
}

func (s *fakeSink) EmitNotification(payload any) { s.notifyCh <- payload }

func (s *fakeSink) CompleteOk(result any) {
	s.okResult = result
	close(s.done)
}

func (s *fakeSink) CompleteErr(err error) {
	s.errResult = err
	close(s.done)
}

func expectNotification(t *testing.T, s *fakeSink) any {
	t.Helper()
	select {
	case payload := <-s.notifyCh:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a notification")
		return nil
	}
}

func expectPublish(t *testing.T, s *fakeSink) publishedEnvelope {
	t.Helper()
	select {
	case p := <-s.publishCh:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a published envelope")
		return publishedEnvelope{}
	}
}

func expectNoPublish(t *testing.T, s *fakeSink) {
	t.Helper()
	select {
	case p := <-s.publishCh:
		t.Fatalf("expected no published envelope, got one addressed to %s", p.recipient)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitSinkDone(t *testing.T, s *fakeSink) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the conversation to terminate")
	}
}

func expectNotDone(t *testing.T, s *fakeSink) {
	t.Helper()
	select {
	case <-s.done:
		t.Fatal("expected the conversation to still be running")
	case <-time.After(50 * time.Millisecond):
	}
}
