package convo

import (
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/jwtauth"
)

// IssueJwt and VerifyJwt (§4.5.8) are synchronous, non-conversation
// operations on the same client command surface as the protocol state
// machines; they delegate straight to internal/jwtauth. The legacy
// expires_at input shape is rejected at the transport layer, in
// jwtIssueParams's decoding (clientapi.Services.jwtIssue), not here — by
// the time a call reaches IssueJwt it is always duration_hours.

// IssueJwt constructs a JWT for targetKey, valid for durationHours,
// signed by iss.
func IssueJwt(iss *jwtauth.Issuer, targetKey string, durationHours float64) (string, error) {
	if iss == nil {
		return "", errors.New(errors.ErrorTypeClientFault, "NO_JWT_ISSUER", "no jwt issuer configured")
	}
	return iss.Issue(targetKey, durationHours)
}

// VerifyJwt checks token's signature against pubkeyHex and its expiry,
// returning the target_key claim.
func VerifyJwt(pubkeyHex, token string) (string, error) {
	return jwtauth.Verify(pubkeyHex, token)
}
