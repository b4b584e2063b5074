package convo

import (
	"encoding/json"
	"time"

	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/router"
	"github.com/Shugur-Network/portal/internal/runtime"
)

const defaultInvoiceTimeout = 5 * time.Minute

// InvoiceRequestResult is the terminal payload of InvoiceRequest: the
// recipient's produced invoice.
type InvoiceRequestResult struct {
	Bolt11      string `json:"bolt11"`
	PaymentHash string `json:"payment_hash,omitempty"`
}

type invoiceRequestBody struct {
	AmountMsat  int64  `json:"amount_msat"`
	Description string `json:"description,omitempty"`
}

type invoiceRequestRespBody struct {
	Status      string `json:"status"`
	Bolt11      string `json:"bolt11,omitempty"`
	PaymentHash string `json:"payment_hash,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// InvoiceRequest implements §4.5.5's "ask a recipient to produce an
// invoice" half.
type InvoiceRequest struct {
	deadline
	id            string
	correlationID string
	recipient     string
	stop          chan struct{}
}

// StartInvoiceRequest publishes invoice_request to recipient and spawns
// the conversation awaiting the produced invoice.
func StartInvoiceRequest(rt *runtime.Runtime, rtr *router.Router, recipient string, amountMsat int64, description string, sink runtime.EffectSink) (string, error) {
	corrID := NewCorrelationID()
	id := NewCorrelationID()
	expiresAt := time.Now().Add(defaultInvoiceTimeout)

	inbox, err := rtr.Register(corrID)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(invoiceRequestBody{AmountMsat: amountMsat, Description: description})
	if err != nil {
		rtr.Unregister(corrID)
		return "", errors.CryptoError("failed to marshal invoice request", err)
	}

	ir := &InvoiceRequest{
		deadline:      deadline{at: expiresAt},
		id:            id,
		correlationID: corrID,
		recipient:     recipient,
		stop:          make(chan struct{}),
	}

	if err := rt.Spawn(id, "invoice_request", ir, sink, func() { rtr.Unregister(corrID); close(ir.stop) }); err != nil {
		rtr.Unregister(corrID)
		return "", err
	}

	if err := sink.PublishEnvelope(recipient, envelope.Envelope{
		Subkind:       envelope.SubkindInvoiceRequest,
		CorrelationID: corrID,
		ExpiresAt:     &expiresAt,
		Body:          body,
	}); err != nil {
		rt.Cancel(id)
		return "", err
	}

	go pumpToRuntime(rt, id, inbox, ir.stop)
	return id, nil
}

func (i *InvoiceRequest) OnEvent(in *envelope.Inbound, sink runtime.EffectSink) {
	if in.CorrelationID != i.correlationID || in.Subkind != envelope.SubkindInvoiceRequestResp {
		return
	}
	var body invoiceRequestRespBody
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return
	}

	switch body.Status {
	case "produced":
		sink.CompleteOk(InvoiceRequestResult{Bolt11: body.Bolt11, PaymentHash: body.PaymentHash})
	case "declined":
		sink.CompleteErr(errors.UserDecisionError(body.Reason))
	default:
		sink.CompleteErr(errors.ProtocolError(i.id, "unrecognized invoice_request_response status: "+body.Status))
	}
}

func (i *InvoiceRequest) OnTimer(firedAt time.Time, sink runtime.EffectSink) {
	sink.CompleteErr(errors.ConversationTimeoutError(i.id))
}

func (i *InvoiceRequest) OnCancel(sink runtime.EffectSink) {
	sink.CompleteErr(errors.UserDecisionError("invoice request canceled"))
}

func (i *InvoiceRequest) OnClientIntent(payload any, sink runtime.EffectSink) {}

type invoicePayBody struct {
	Bolt11      string `json:"bolt11"`
	Description string `json:"description,omitempty"`
}

type invoicePayRespBody struct {
	Status   string `json:"status"`
	Preimage string `json:"preimage,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// InvoicePayResult is the terminal Paid{preimage} payload, mirroring
// SinglePaymentResult but without a subscription_id (InvoicePay has no
// notion of a linked recurring subscription).
type InvoicePayResult struct {
	Preimage string `json:"preimage"`
}

// InvoicePay implements §4.5.5's "ask a user to pay a specific invoice"
// half; its status machine is the same shape as SinglePayment's
// RequestInvoice mode, kept as a distinct type since it carries no
// subscription_id and no approve/succeed split — a counterparty that
// already has the invoice goes straight to paid or failed.
type InvoicePay struct {
	deadline
	id            string
	correlationID string
	recipient     string
	stop          chan struct{}
}

// StartInvoicePay publishes invoice_pay to recipient and spawns the
// conversation awaiting its payment outcome.
func StartInvoicePay(rt *runtime.Runtime, rtr *router.Router, recipient, bolt11, description string, sink runtime.EffectSink) (string, error) {
	corrID := NewCorrelationID()
	id := NewCorrelationID()
	expiresAt := time.Now().Add(defaultInvoiceTimeout)

	inbox, err := rtr.Register(corrID)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(invoicePayBody{Bolt11: bolt11, Description: description})
	if err != nil {
		rtr.Unregister(corrID)
		return "", errors.CryptoError("failed to marshal invoice pay", err)
	}

	ip := &InvoicePay{
		deadline:      deadline{at: expiresAt},
		id:            id,
		correlationID: corrID,
		recipient:     recipient,
		stop:          make(chan struct{}),
	}

	if err := rt.Spawn(id, "invoice_pay", ip, sink, func() { rtr.Unregister(corrID); close(ip.stop) }); err != nil {
		rtr.Unregister(corrID)
		return "", err
	}

	if err := sink.PublishEnvelope(recipient, envelope.Envelope{
		Subkind:       envelope.SubkindInvoicePay,
		CorrelationID: corrID,
		ExpiresAt:     &expiresAt,
		Body:          body,
	}); err != nil {
		rt.Cancel(id)
		return "", err
	}

	go pumpToRuntime(rt, id, inbox, ip.stop)
	return id, nil
}

func (p *InvoicePay) OnEvent(in *envelope.Inbound, sink runtime.EffectSink) {
	if in.CorrelationID != p.correlationID || in.Subkind != envelope.SubkindInvoicePayResponse {
		return
	}
	var body invoicePayRespBody
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return
	}

	switch body.Status {
	case "paid":
		sink.CompleteOk(InvoicePayResult{Preimage: body.Preimage})
	case "failed":
		sink.CompleteErr(errors.BackendFailureError("peer_wallet", "pay", errors.New(errors.ErrorTypeExternal, "PAYMENT_FAILED", body.Reason)))
	case "rejected":
		sink.CompleteErr(errors.UserDecisionError(body.Reason))
	default:
		sink.CompleteErr(errors.ProtocolError(p.id, "unrecognized invoice_pay_response status: "+body.Status))
	}
}

func (p *InvoicePay) OnTimer(firedAt time.Time, sink runtime.EffectSink) {
	sink.CompleteErr(errors.ConversationTimeoutError(p.id))
}

func (p *InvoicePay) OnCancel(sink runtime.EffectSink) {
	sink.CompleteErr(errors.UserDecisionError("invoice pay canceled"))
}

func (p *InvoicePay) OnClientIntent(payload any, sink runtime.EffectSink) {}
