package jwtauth

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

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

func TestIssueVerifyRoundTrip(t *testing.T) {
	id := newTestIdentity(t)
	iss := New(id)

	token, err := iss.Issue("target-pubkey", 2)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	targetKey, err := Verify(id.PublicKeyHex, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if targetKey != "target-pubkey" {
		t.Fatalf("expected target_key %q, got %q", "target-pubkey", targetKey)
	}
}

func TestIssueRejectsNonPositiveDuration(t *testing.T) {
	id := newTestIdentity(t)
	iss := New(id)

	if _, err := iss.Issue("target", 0); err == nil {
		t.Fatal("expected an error for duration_hours == 0")
	}
	if _, err := iss.Issue("target", -1); err == nil {
		t.Fatal("expected an error for a negative duration_hours")
	}
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	issuer := newTestIdentity(t)
	other := newTestIdentity(t)
	iss := New(issuer)

	token, err := iss.Issue("target", 1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := Verify(other.PublicKeyHex, token); err == nil {
		t.Fatal("expected verification to fail against the wrong pubkey")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	id := newTestIdentity(t)

	now := time.Now()
	claims := Claims{
		TargetKey: "target",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
			Issuer:    id.PublicKeyHex,
		},
	}

	token, err := jwt.NewWithClaims(signingMethodSchnorr, claims).SignedString(id)
	if err != nil {
		t.Fatalf("signing expired token: %v", err)
	}

	if _, err := Verify(id.PublicKeyHex, token); err == nil {
		t.Fatal("expected verification to fail for an expired token")
	}
}
