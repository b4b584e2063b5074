package wallet

import (
	"context"

	"github.com/breez/breez-sdk-go/breez_sdk"

	"github.com/Shugur-Network/portal/internal/errors"
)

// Breez is a Lightning wallet backend built on the Breez SDK's node
// service, an alternative to NWC for operators who run their own
// embedded LSP-backed node rather than delegating to a remote wallet.
// Invoice-state naming (settled/cancelled/accepted) is grounded on
// breez-lightninglib's InvoiceRegistry, the predecessor project's own
// invoice lifecycle model, adapted here to the hosted SDK's request/
// response calls instead of an on-disk channeldb.
type Breez struct {
	services *breez_sdk.BlockingBreezServices
}

// NewBreez wraps an already-connected Breez SDK service handle. Connection
// setup (seed, API key, working directory) is config-layer concern and
// happens before this constructor runs.
func NewBreez(services *breez_sdk.BlockingBreezServices) *Breez {
	return &Breez{services: services}
}

func (b *Breez) PayInvoice(ctx context.Context, bolt11 string) (*PayResult, error) {
	resp, err := b.services.SendPayment(breez_sdk.SendPaymentRequest{Bolt11: bolt11})
	if err != nil {
		return nil, errors.BackendFailureError("breez", "pay_invoice", err)
	}
	payment := resp.Payment
	var preimage string
	var feesPaidMsat int64
	if details, ok := payment.Details.(breez_sdk.PaymentDetailsLn); ok {
		preimage = details.Data.PaymentPreimage
	}
	feesPaidMsat = int64(payment.FeeMsat)
	return &PayResult{Preimage: preimage, FeesPaidMsat: feesPaidMsat}, nil
}

func (b *Breez) CreateInvoice(ctx context.Context, amountMsat int64, description string) (string, error) {
	resp, err := b.services.ReceivePayment(breez_sdk.ReceivePaymentRequest{
		AmountMsat:  uint64(amountMsat),
		Description: description,
	})
	if err != nil {
		return "", errors.BackendFailureError("breez", "make_invoice", err)
	}
	return resp.LnInvoice.Bolt11, nil
}

func (b *Breez) Balance(ctx context.Context) (int64, error) {
	info, err := b.services.NodeInfo()
	if err != nil {
		return 0, errors.BackendFailureError("breez", "get_balance", err)
	}
	return int64(info.ChannelsBalanceMsat), nil
}

func (b *Breez) Info(ctx context.Context) (*Info, error) {
	return &Info{Kind: "breez"}, nil
}
