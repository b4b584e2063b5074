// Package wallet implements the Wallet Adapter (§4.7): a small capability
// interface with None, NWC, and Breez-flavored backends. The app builds one
// backend and stores it in clientapi.Services.Wallet; the conversations in
// internal/convo do not call it.
package wallet

import "context"

// PayResult is the outcome of a successful pay_invoice call.
type PayResult struct {
	Preimage     string
	FeesPaidMsat int64
}

// Info describes which backend is active, surfaced to clients that ask.
type Info struct {
	Kind string
}

// Wallet is the Lightning capability interface held in clientapi.Services.
// Implementations: None (always refuses), NWC, Breez.
type Wallet interface {
	PayInvoice(ctx context.Context, bolt11 string) (*PayResult, error)
	CreateInvoice(ctx context.Context, amountMsat int64, description string) (string, error)
	Balance(ctx context.Context) (int64, error)
	Info(ctx context.Context) (*Info, error)
}
