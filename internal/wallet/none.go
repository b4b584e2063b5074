package wallet

import (
	"context"

	"github.com/Shugur-Network/portal/internal/errors"
)

// None is the absent-wallet backend: PayInvoice, CreateInvoice and Balance
// return a typed WALLET_NOT_CONFIGURED error; Info reports Kind "none".
// Payment conversations do not consult it and run the same way under it.
type None struct{}

// NewNone returns the None backend.
func NewNone() *None { return &None{} }

func (n *None) PayInvoice(ctx context.Context, bolt11 string) (*PayResult, error) {
	return nil, notConfigured()
}

func (n *None) CreateInvoice(ctx context.Context, amountMsat int64, description string) (string, error) {
	return "", notConfigured()
}

func (n *None) Balance(ctx context.Context) (int64, error) {
	return 0, notConfigured()
}

func (n *None) Info(ctx context.Context) (*Info, error) {
	return &Info{Kind: "none"}, nil
}

func notConfigured() error {
	return errors.New(errors.ErrorTypeBackendFailure, "WALLET_NOT_CONFIGURED", "no wallet backend is configured")
}
