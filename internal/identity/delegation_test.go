package identity

import (
	"crypto/sha256"
	"strings"
	"testing"

	nostr "github.com/nbd-wtf/go-nostr"
)

var (
	testMasterKeyHex = strings.Repeat("0", 63) + "1"
	testSubKeyHex    = strings.Repeat("0", 63) + "2"
)

func signDelegation(t *testing.T, master *Identity, conditions, subPubkey string) string {
	t.Helper()
	hash := sha256.Sum256([]byte(conditions + ":" + subPubkey))
	sig, err := master.SignRawHash(hash)
	if err != nil {
		t.Fatalf("SignRawHash: %v", err)
	}
	return sig
}

func TestParseSubkeyProofSplitsThreeParts(t *testing.T) {
	proof, err := ParseSubkeyProof("masterhex:kind=1&created_at>100:sighex")
	if err != nil {
		t.Fatalf("ParseSubkeyProof: %v", err)
	}
	if proof.MasterPubkey != "masterhex" || proof.Conditions != "kind=1&created_at>100" || proof.Sig != "sighex" {
		t.Fatalf("unexpected proof: %+v", proof)
	}
}

func TestParseSubkeyProofRejectsMalformedString(t *testing.T) {
	if _, err := ParseSubkeyProof("only-two:parts"); err == nil {
		t.Fatal("expected an error for a string missing the sig segment")
	}
}

func TestExtractDelegationTagFindsWellFormedTag(t *testing.T) {
	evt := &nostr.Event{
		Tags: nostr.Tags{
			{"delegation", "masterhex", "kind=1", "sighex"},
		},
	}
	proof := ExtractDelegationTag(evt)
	if proof == nil || proof.MasterPubkey != "masterhex" || proof.Conditions != "kind=1" || proof.Sig != "sighex" {
		t.Fatalf("unexpected proof: %+v", proof)
	}
}

func TestExtractDelegationTagReturnsNilWhenAbsent(t *testing.T) {
	evt := &nostr.Event{Tags: nostr.Tags{{"e", "someid"}}}
	if ExtractDelegationTag(evt) != nil {
		t.Fatal("expected nil when no delegation tag is present")
	}
}

func TestExtractDelegationTagIgnoresShortTag(t *testing.T) {
	evt := &nostr.Event{Tags: nostr.Tags{{"delegation", "masterhex", "kind=1"}}}
	if ExtractDelegationTag(evt) != nil {
		t.Fatal("expected nil for a delegation tag missing its sig field")
	}
}

func TestVerifyDelegationAcceptsValidProofWithNoConditions(t *testing.T) {
	master, err := New(testMasterKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub, err := New(testSubKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sig := signDelegation(t, master, "", sub.PublicKeyHex)
	evt := &nostr.Event{PubKey: sub.PublicKeyHex, Kind: 1, CreatedAt: 1000}
	proof := &DelegationProof{MasterPubkey: master.PublicKeyHex, Conditions: "", Sig: sig}

	if err := VerifyDelegation(evt, proof); err != nil {
		t.Fatalf("VerifyDelegation: %v", err)
	}
}

func TestVerifyDelegationRejectsNilProof(t *testing.T) {
	evt := &nostr.Event{PubKey: "whoever"}
	if err := VerifyDelegation(evt, nil); err == nil {
		t.Fatal("expected an error for a nil proof")
	}
}

func TestVerifyDelegationRejectsBadSignature(t *testing.T) {
	master, err := New(testMasterKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub, err := New(testSubKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sig := signDelegation(t, master, "kind=1", sub.PublicKeyHex)
	evt := &nostr.Event{PubKey: sub.PublicKeyHex, Kind: 1}
	// Conditions tampered after signing: the hashed message no longer matches sig.
	proof := &DelegationProof{MasterPubkey: master.PublicKeyHex, Conditions: "kind=2", Sig: sig}

	if err := VerifyDelegation(evt, proof); err == nil {
		t.Fatal("expected VerifyDelegation to reject a signature over different conditions")
	}
}

func TestVerifyDelegationEnforcesKindCondition(t *testing.T) {
	master, err := New(testMasterKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub, err := New(testSubKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sig := signDelegation(t, master, "kind=1", sub.PublicKeyHex)
	proof := &DelegationProof{MasterPubkey: master.PublicKeyHex, Conditions: "kind=1", Sig: sig}

	okEvt := &nostr.Event{PubKey: sub.PublicKeyHex, Kind: 1}
	if err := VerifyDelegation(okEvt, proof); err != nil {
		t.Fatalf("expected kind=1 event to satisfy kind=1 condition: %v", err)
	}

	wrongKindEvt := &nostr.Event{PubKey: sub.PublicKeyHex, Kind: 4}
	if err := VerifyDelegation(wrongKindEvt, proof); err == nil {
		t.Fatal("expected kind=4 event to violate kind=1 condition")
	}
}

func TestVerifyDelegationEnforcesCreatedAtWindow(t *testing.T) {
	master, err := New(testMasterKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub, err := New(testSubKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	conditions := "created_at>100&created_at<200"
	sig := signDelegation(t, master, conditions, sub.PublicKeyHex)
	proof := &DelegationProof{MasterPubkey: master.PublicKeyHex, Conditions: conditions, Sig: sig}

	inWindow := &nostr.Event{PubKey: sub.PublicKeyHex, CreatedAt: 150}
	if err := VerifyDelegation(inWindow, proof); err != nil {
		t.Fatalf("expected created_at=150 to satisfy (100,200): %v", err)
	}

	tooEarly := &nostr.Event{PubKey: sub.PublicKeyHex, CreatedAt: 50}
	if err := VerifyDelegation(tooEarly, proof); err == nil {
		t.Fatal("expected created_at=50 to violate created_at>100")
	}

	tooLate := &nostr.Event{PubKey: sub.PublicKeyHex, CreatedAt: 250}
	if err := VerifyDelegation(tooLate, proof); err == nil {
		t.Fatal("expected created_at=250 to violate created_at<200")
	}
}

func TestVerifyDelegationRejectsUnknownCondition(t *testing.T) {
	master, err := New(testMasterKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub, err := New(testSubKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sig := signDelegation(t, master, "bogus=clause", sub.PublicKeyHex)
	proof := &DelegationProof{MasterPubkey: master.PublicKeyHex, Conditions: "bogus=clause", Sig: sig}
	evt := &nostr.Event{PubKey: sub.PublicKeyHex}

	if err := VerifyDelegation(evt, proof); err == nil {
		t.Fatal("expected an unrecognized condition clause to be rejected")
	}
}
