// Package jwtauth implements IssueJwt/VerifyJwt (§4.5.8): synchronous,
// non-conversation commands that sit on the same client command surface as
// the protocol state machines. Tokens are signed with the server's
// secp256k1 identity using Schnorr, the same curve and signature scheme as
// Nostr event signing.
package jwtauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/identity"
)

// Claims is the JWT payload shape (§4.5.8): target_key plus the standard
// exp/iat registered claims.
type Claims struct {
	TargetKey string `json:"target_key"`
	jwt.RegisteredClaims
}

// Issuer issues and verifies tokens against a single server identity.
type Issuer struct {
	id *identity.Identity
}

// New creates an Issuer bound to id's private key for signing.
func New(id *identity.Identity) *Issuer {
	return &Issuer{id: id}
}

// Issue constructs a JWT whose header selects the SigningMethodSchnorr and
// whose claims carry targetKey, exp = now + durationHours, iat = now.
// durationHours must be > 0 (§4.5.8 legacy expires_at form is rejected at
// the transport layer, not here).
func (iss *Issuer) Issue(targetKey string, durationHours float64) (string, error) {
	if durationHours <= 0 {
		return "", errors.New(errors.ErrorTypeValidation, "INVALID_DURATION", "duration_hours must be greater than zero")
	}

	now := time.Now()
	claims := Claims{
		TargetKey: targetKey,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(durationHours * float64(time.Hour)))),
			Issuer:    iss.id.PublicKeyHex,
		},
	}

	token := jwt.NewWithClaims(signingMethodSchnorr, claims)
	signed, err := token.SignedString(iss.id)
	if err != nil {
		return "", errors.CryptoError("jwt signing failed", err)
	}
	return signed, nil
}

// Verify checks token's signature against pubkeyHex and its expiry,
// returning the target_key claim on success.
func Verify(pubkeyHex, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != signingMethodSchnorr.Alg() {
			return nil, errors.New(errors.ErrorTypeCrypto, "UNEXPECTED_ALG", "unexpected JWT signing algorithm")
		}
		return pubkeyHex, nil
	})
	if err != nil {
		return "", errors.CryptoError("jwt verification failed", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", errors.New(errors.ErrorTypeCrypto, "INVALID_TOKEN", "jwt claims invalid")
	}
	return claims.TargetKey, nil
}
