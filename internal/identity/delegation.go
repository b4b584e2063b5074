package identity

import (
	"crypto/sha256"
	"strconv"
	"strings"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/Shugur-Network/portal/internal/errors"
)

// DelegationProof is a parsed NIP-26 delegation tag: a subkey claiming to
// act on behalf of MasterPubkey, bounded by Conditions, per §3 Data Model
// ("delegation proof" on envelopes signed by a subkey).
type DelegationProof struct {
	MasterPubkey string
	Conditions   string
	Sig          string
}

// ParseSubkeyProof parses config.NostrConfig.SubkeyProof's
// "master_pubkey:conditions:sig" wire form into a DelegationProof, for a
// node whose own identity acts as a subkey delegated by a main key (the
// SealDelegated half of §4.2's signing algorithm). Conditions may itself
// contain '&'-joined clauses, never a bare colon, so a 3-way split is
// unambiguous.
func ParseSubkeyProof(s string) (*DelegationProof, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return nil, errors.New(errors.ErrorTypeValidation, "INVALID_SUBKEY_PROOF", "expected master_pubkey:conditions:sig")
	}
	return &DelegationProof{MasterPubkey: parts[0], Conditions: parts[1], Sig: parts[2]}, nil
}

// ExtractDelegationTag scans evt's tags for a well-formed
// ["delegation", master_pubkey, conditions, sig] tag. Returns nil if none
// is present; a malformed tag is treated the same as absent.
func ExtractDelegationTag(evt *nostr.Event) *DelegationProof {
	for _, tag := range evt.Tags {
		if len(tag) >= 4 && tag[0] == "delegation" {
			return &DelegationProof{
				MasterPubkey: tag[1],
				Conditions:   tag[2],
				Sig:          tag[3],
			}
		}
	}
	return nil
}

// VerifyDelegation checks that proof was issued by MasterPubkey for
// evt.PubKey and that evt satisfies proof's conditions. On success the
// caller should treat evt as authored by MasterPubkey, not evt.PubKey.
func VerifyDelegation(evt *nostr.Event, proof *DelegationProof) error {
	if proof == nil {
		return errors.CryptoError("no delegation proof present", nil)
	}

	message := proof.Conditions + ":" + evt.PubKey
	hash := sha256.Sum256([]byte(message))

	if err := VerifySchnorr(proof.MasterPubkey, hash, proof.Sig); err != nil {
		return errors.DelegationProofError(evt.PubKey, proof.MasterPubkey)
	}

	if err := checkConditions(proof.Conditions, evt); err != nil {
		return err
	}
	return nil
}

// checkConditions evaluates an '&'-joined list of clauses of the form
// "kind=N", "created_at>N", or "created_at<N" against evt. An empty
// conditions string always passes.
func checkConditions(conditions string, evt *nostr.Event) error {
	if conditions == "" {
		return nil
	}

	for _, clause := range strings.Split(conditions, "&") {
		if err := checkSingleCondition(clause, evt); err != nil {
			return err
		}
	}
	return nil
}

func checkSingleCondition(clause string, evt *nostr.Event) error {
	switch {
	case strings.HasPrefix(clause, "kind="):
		wantKind, err := strconv.Atoi(strings.TrimPrefix(clause, "kind="))
		if err != nil {
			return errors.ProtocolError("", "malformed delegation condition: "+clause)
		}
		if evt.Kind != wantKind {
			return errors.ProtocolError("", "delegation does not permit kind "+strconv.Itoa(evt.Kind))
		}

	case strings.HasPrefix(clause, "created_at>"):
		bound, err := strconv.ParseInt(strings.TrimPrefix(clause, "created_at>"), 10, 64)
		if err != nil {
			return errors.ProtocolError("", "malformed delegation condition: "+clause)
		}
		if int64(evt.CreatedAt) <= bound {
			return errors.ProtocolError("", "delegation not yet valid for this event's timestamp")
		}

	case strings.HasPrefix(clause, "created_at<"):
		bound, err := strconv.ParseInt(strings.TrimPrefix(clause, "created_at<"), 10, 64)
		if err != nil {
			return errors.ProtocolError("", "malformed delegation condition: "+clause)
		}
		if int64(evt.CreatedAt) >= bound {
			return errors.ProtocolError("", "delegation has expired for this event's timestamp")
		}

	default:
		return errors.ProtocolError("", "unknown delegation condition: "+clause)
	}
	return nil
}
