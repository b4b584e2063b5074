package jwtauth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Shugur-Network/portal/internal/identity"
)

// schnorrMethod implements jwt.SigningMethod over secp256k1 Schnorr
// signatures, the same primitive nostr.Event.Sign uses. Signing requires a
// *identity.Identity (it needs the private key); verification takes the
// signer's public key as a hex string.
type schnorrMethod struct{}

var signingMethodSchnorr = &schnorrMethod{}

func init() {
	jwt.RegisterSigningMethod("Schnorr", func() jwt.SigningMethod {
		return signingMethodSchnorr
	})
}

func (m *schnorrMethod) Alg() string {
	return "Schnorr"
}

func (m *schnorrMethod) Sign(signingString string, key interface{}) ([]byte, error) {
	id, ok := key.(*identity.Identity)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	hash := sha256.Sum256([]byte(signingString))
	sigHex, err := id.SignRawHash(hash)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(sigHex)
}

func (m *schnorrMethod) Verify(signingString string, sig []byte, key interface{}) error {
	pubkeyHex, ok := key.(string)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	hash := sha256.Sum256([]byte(signingString))
	return identity.VerifySchnorr(pubkeyHex, hash, hex.EncodeToString(sig))
}
