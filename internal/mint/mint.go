// Package mint implements the Mint Adapter (§4.7): synchronous calls to a
// Cashu mint's HTTP API, consumed directly by MintCashu/BurnCashu rather
// than through the conversation runtime. Token/proof shapes are grounded
// on the teacher's NIP-60 wallet-event validation (CashuProof, TokenContent).
package mint

import "context"

// CashuProof is a single Cashu blind-signature proof, identical in shape to
// the teacher's NIP-60 CashuProof (id/amount/secret/C), since a proof's
// wire format is dictated by the Cashu protocol itself, not by this module.
type CashuProof struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Secret string `json:"secret"`
	C      string `json:"C"`
}

// Token is the decoded form of an opaque Cashu token: a mint URL, a unit
// (e.g. "sat"), and the set of proofs redeemable at that mint.
type Token struct {
	Mint   string       `json:"mint"`
	Unit   string       `json:"unit"`
	Proofs []CashuProof `json:"proofs"`
}

// Mint is the capability interface behind the direct synchronous calls of
// MintCashu/BurnCashu (§4.5.6) — those two operations are NOT
// conversations, they call this interface straight from the client-command
// handler. SinglePayment and RecurringPayment do not use it.
type Mint interface {
	// Mint asks mintURL to mint amount of unit, returning a serialized
	// bearer token. staticAuth and description are optional; pass "" when
	// absent.
	Mint(ctx context.Context, mintURL, unit string, amount int64, staticAuth, description string) (string, error)

	// Burn redeems token at mintURL, returning the msat value received.
	// staticAuth is optional; pass "" when absent.
	Burn(ctx context.Context, mintURL, unit, token, staticAuth string) (int64, error)
}
