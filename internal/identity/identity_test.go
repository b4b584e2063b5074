package identity

import (
	"crypto/sha256"
	"strings"
	"testing"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

var testKeyHex = strings.Repeat("0", 63) + "1"

func TestNewDerivesPublicKey(t *testing.T) {
	id, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if id.PrivateKeyHex != testKeyHex {
		t.Fatalf("expected private key %s, got %s", testKeyHex, id.PrivateKeyHex)
	}
	if len(id.PublicKeyHex) != 64 {
		t.Fatalf("expected a 64-char hex public key, got %q", id.PublicKeyHex)
	}
}

func TestNewNormalizesCaseAndWhitespace(t *testing.T) {
	id1, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id2, err := New("  " + strings.ToUpper(testKeyHex) + "  ")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if id1.PublicKeyHex != id2.PublicKeyHex {
		t.Fatal("expected whitespace/case-insensitive private keys to derive the same public key")
	}
}

func TestNewRejectsInvalidPrivateKey(t *testing.T) {
	if _, err := New("not-a-valid-hex-key"); err == nil {
		t.Fatal("expected an error for a malformed private key")
	}
}

func TestSignFillsEventFieldsAndVerifies(t *testing.T) {
	id, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	evt := &nostr.Event{Kind: 1, Content: "hello"}
	if err := id.Sign(evt); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if evt.PubKey != id.PublicKeyHex {
		t.Fatalf("expected signed event's pubkey to be %s, got %s", id.PublicKeyHex, evt.PubKey)
	}
	if evt.Sig == "" || evt.ID == "" {
		t.Fatal("expected Sign to populate ID and Sig")
	}
	if err := VerifyEventSignature(evt); err != nil {
		t.Fatalf("VerifyEventSignature: %v", err)
	}
}

func TestVerifyEventSignatureRejectsTamperedContent(t *testing.T) {
	id, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	evt := &nostr.Event{Kind: 1, Content: "hello"}
	if err := id.Sign(evt); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	evt.Content = "tampered"
	if err := VerifyEventSignature(evt); err == nil {
		t.Fatal("expected signature verification to fail once event id no longer matches content")
	}
}

func TestNpubRoundTripsThroughDecodeNpub(t *testing.T) {
	id, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	npub := id.Npub()
	if !strings.HasPrefix(npub, "npub1") {
		t.Fatalf("expected an npub1-prefixed string, got %s", npub)
	}

	decoded, err := DecodeNpub(npub)
	if err != nil {
		t.Fatalf("DecodeNpub: %v", err)
	}
	if decoded != id.PublicKeyHex {
		t.Fatalf("expected decoded npub to equal %s, got %s", id.PublicKeyHex, decoded)
	}
}

func TestDecodeNpubAcceptsRawHex(t *testing.T) {
	id, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	decoded, err := DecodeNpub(id.PublicKeyHex)
	if err != nil {
		t.Fatalf("DecodeNpub: %v", err)
	}
	if decoded != id.PublicKeyHex {
		t.Fatalf("expected %s, got %s", id.PublicKeyHex, decoded)
	}
}

func TestDecodeNpubRejectsWrongPrefix(t *testing.T) {
	id, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	nsec, err := nip19.EncodePrivateKey(id.PrivateKeyHex)
	if err != nil {
		t.Fatalf("EncodePrivateKey: %v", err)
	}
	if _, err := DecodeNpub(nsec); err == nil {
		t.Fatal("expected DecodeNpub to reject an nsec-prefixed string")
	}
}

func TestSignRawHashRoundTripsWithVerifySchnorr(t *testing.T) {
	id, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hash := sha256.Sum256([]byte("arbitrary message"))

	sigHex, err := id.SignRawHash(hash)
	if err != nil {
		t.Fatalf("SignRawHash: %v", err)
	}
	if err := VerifySchnorr(id.PublicKeyHex, hash, sigHex); err != nil {
		t.Fatalf("VerifySchnorr: %v", err)
	}
}

func TestVerifySchnorrRejectsWrongMessage(t *testing.T) {
	id, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hash := sha256.Sum256([]byte("arbitrary message"))
	sigHex, err := id.SignRawHash(hash)
	if err != nil {
		t.Fatalf("SignRawHash: %v", err)
	}

	wrongHash := sha256.Sum256([]byte("a different message"))
	if err := VerifySchnorr(id.PublicKeyHex, wrongHash, sigHex); err == nil {
		t.Fatal("expected verification to fail against a different message hash")
	}
}
