// Package identity holds the node's own Nostr keypair and the helpers for
// working with the secp256k1/Schnorr identities of everyone it talks to.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/Shugur-Network/portal/internal/errors"
)

// Identity is the node's own keypair, used to sign every event it
// publishes and to derive the shared secret for every NIP-44 envelope it
// opens or seals.
type Identity struct {
	PrivateKeyHex string
	PublicKeyHex  string
}

// New derives an Identity from a 64-character hex private key, the same
// format config.NostrConfig.PrivateKey is validated against.
func New(privateKeyHex string) (*Identity, error) {
	privateKeyHex = strings.ToLower(strings.TrimSpace(privateKeyHex))

	pub, err := nostr.GetPublicKey(privateKeyHex)
	if err != nil {
		return nil, errors.CryptoError("invalid private key", err)
	}

	return &Identity{
		PrivateKeyHex: privateKeyHex,
		PublicKeyHex:  pub,
	}, nil
}

// Sign fills in ID, PubKey, CreatedAt (if zero) and Sig on evt.
func (id *Identity) Sign(evt *nostr.Event) error {
	if evt.CreatedAt == 0 {
		evt.CreatedAt = nostr.Now()
	}
	evt.PubKey = id.PublicKeyHex

	if err := evt.Sign(id.PrivateKeyHex); err != nil {
		return errors.CryptoError("failed to sign event", err)
	}
	return nil
}

// Npub encodes the node's public key as a bech32 npub, for logging and
// for the profile/NIP-05 responses the node publishes about itself.
func (id *Identity) Npub() string {
	npub, err := nip19.EncodePublicKey(id.PublicKeyHex)
	if err != nil {
		return id.PublicKeyHex
	}
	return npub
}

// VerifyEventSignature checks that evt.Sig is a valid Schnorr signature
// over evt.ID made by the key in evt.PubKey. go-nostr's Event.CheckSignature
// already does this; this wrapper gives router/envelope callers a single
// CryptoError-shaped return.
func VerifyEventSignature(evt *nostr.Event) error {
	ok, err := evt.CheckSignature()
	if err != nil {
		return errors.CryptoError("malformed signature or pubkey", err)
	}
	if !ok {
		return errors.CryptoError("signature does not verify", nil)
	}
	return nil
}

// DecodeNpub accepts either a raw 64-char hex pubkey or an npub1... bech32
// string and always returns hex, the form every other package works with.
func DecodeNpub(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) == 64 {
		if _, err := hex.DecodeString(s); err == nil {
			return strings.ToLower(s), nil
		}
	}

	prefix, data, err := nip19.Decode(s)
	if err != nil {
		return "", errors.CryptoError("invalid npub or hex pubkey", err)
	}
	if prefix != "npub" {
		return "", errors.CryptoError("expected npub, got "+prefix, nil)
	}
	pub, ok := data.(string)
	if !ok {
		return "", errors.CryptoError("malformed npub payload", nil)
	}
	return pub, nil
}

// VerifySchnorr is the raw primitive the delegation verifier and the JWT
// signing method both build on: a Schnorr signature over an arbitrary
// 32-byte message hash, not a full Nostr event id.
func VerifySchnorr(pubkeyHex string, hash [32]byte, sigHex string) error {
	pubBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return errors.CryptoError("invalid pubkey hex", err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return errors.CryptoError("invalid x-only pubkey", err)
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return errors.CryptoError("invalid signature hex", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return errors.CryptoError("invalid schnorr signature", err)
	}

	if !sig.Verify(hash[:], pub) {
		return errors.CryptoError("schnorr signature does not verify", nil)
	}
	return nil
}

// SignRawHash is VerifySchnorr's signing counterpart: a Schnorr signature
// over an arbitrary 32-byte hash using the node's own private key, used by
// jwtauth's custom signing method rather than a full Nostr event.
func (id *Identity) SignRawHash(hash [32]byte) (string, error) {
	keyBytes, err := hex.DecodeString(id.PrivateKeyHex)
	if err != nil {
		return "", errors.CryptoError("invalid private key hex", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(keyBytes)

	sig, err := schnorr.Sign(priv, hash[:], schnorr.WithCustomRand(rand.Reader))
	if err != nil {
		return "", errors.CryptoError("schnorr signing failed", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}
