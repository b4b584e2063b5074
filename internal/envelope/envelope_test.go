package envelope

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/Shugur-Network/portal/internal/identity"
)

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	var sk [32]byte
	if _, err := rand.Read(sk[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	id, err := identity.New(hex.EncodeToString(sk[:]))
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	return id
}

func TestSealClassifyRoundTrip(t *testing.T) {
	alice := newTestIdentity(t)
	bob := newTestIdentity(t)

	env := Envelope{
		Subkind:       SubkindAuthChallenge,
		CorrelationID: "corr-123",
		Body:          []byte(`{"challenge":"abc"}`),
	}

	evt, err := Seal(alice, bob.PublicKeyHex, env)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if evt.Kind != Kind {
		t.Fatalf("expected kind %d, got %d", Kind, evt.Kind)
	}

	inbound, err := Classify(bob, evt, 10*time.Minute)
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if inbound == nil {
		t.Fatal("Classify returned nil for a well-formed envelope")
	}
	if inbound.Author != alice.PublicKeyHex {
		t.Fatalf("expected author %s, got %s", alice.PublicKeyHex, inbound.Author)
	}
	if inbound.CorrelationID != "corr-123" {
		t.Fatalf("expected correlation_id corr-123, got %s", inbound.CorrelationID)
	}
	if inbound.SuspectTime {
		t.Fatal("freshly-signed event should not be flagged suspect_time")
	}
}

func TestClassifyRejectsTamperedContent(t *testing.T) {
	alice := newTestIdentity(t)
	bob := newTestIdentity(t)

	evt, err := Seal(alice, bob.PublicKeyHex, Envelope{Subkind: SubkindAuthChallenge, CorrelationID: "c1"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	evt.Content = evt.Content[:len(evt.Content)-4] + "abcd"

	inbound, err := Classify(bob, evt, 10*time.Minute)
	if err != nil {
		t.Fatalf("Classify should decline, not error: %v", err)
	}
	if inbound != nil {
		t.Fatal("Classify accepted an event with tampered content")
	}
}

func TestClassifyDeclinesWrongRecipient(t *testing.T) {
	alice := newTestIdentity(t)
	bob := newTestIdentity(t)
	eve := newTestIdentity(t)

	evt, err := Seal(alice, bob.PublicKeyHex, Envelope{Subkind: SubkindAuthChallenge, CorrelationID: "c1"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	inbound, err := Classify(eve, evt, 10*time.Minute)
	if err != nil {
		t.Fatalf("Classify should decline, not error: %v", err)
	}
	if inbound != nil {
		t.Fatal("Classify accepted content encrypted for a different recipient")
	}
}
