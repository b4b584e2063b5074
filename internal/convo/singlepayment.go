package convo

import (
	"encoding/json"
	"time"

	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/router"
	"github.com/Shugur-Network/portal/internal/runtime"
)

const defaultSinglePaymentTimeout = 5 * time.Minute

// SinglePaymentMode distinguishes §4.5.3's two entry points into the one
// state machine: RequestSinglePayment (amount, the peer's wallet produces
// the invoice) vs RequestPaymentRaw (a specific bolt11 the peer must pay).
type SinglePaymentMode string

const (
	RequestAmount  SinglePaymentMode = "request_amount"
	RequestInvoice SinglePaymentMode = "request_invoice"
)

// SinglePaymentRequest is the client-intent payload StartSinglePayment
// takes, covering both modes.
type SinglePaymentRequest struct {
	Recipient      string
	Mode           SinglePaymentMode
	AmountMsat     int64
	Description    string
	Bolt11         string
	SubscriptionID string
}

// SinglePaymentStatus is emitted as a notification on every wire status
// transition (§4.5.3: "each state transition... is emitted as a
// notification on the subscription").
type SinglePaymentStatus struct {
	Status         string `json:"status"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// SinglePaymentResult is the terminal Paid{preimage} payload.
type SinglePaymentResult struct {
	Preimage       string `json:"preimage"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

type singlePaymentRequestBody struct {
	Mode           SinglePaymentMode `json:"mode"`
	AmountMsat     int64             `json:"amount_msat,omitempty"`
	Description    string            `json:"description,omitempty"`
	Bolt11         string            `json:"bolt11,omitempty"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
}

type singlePaymentResponseBody struct {
	Status   string `json:"status"`
	Preimage string `json:"preimage,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type singlePaymentState int

const (
	spSent singlePaymentState = iota
	spUserApproved
	spUserSucceeded
)

// SinglePayment implements §4.5.3.
type SinglePayment struct {
	deadline
	id             string
	correlationID  string
	recipient      string
	subscriptionID string
	state          singlePaymentState
	stop           chan struct{}
}

// StartSinglePayment publishes single_payment_request to req.Recipient and
// spawns the conversation.
func StartSinglePayment(rt *runtime.Runtime, rtr *router.Router, req SinglePaymentRequest, sink runtime.EffectSink) (string, error) {
	corrID := NewCorrelationID()
	id := NewCorrelationID()
	expiresAt := time.Now().Add(defaultSinglePaymentTimeout)

	inbox, err := rtr.Register(corrID)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(singlePaymentRequestBody{
		Mode:           req.Mode,
		AmountMsat:     req.AmountMsat,
		Description:    req.Description,
		Bolt11:         req.Bolt11,
		SubscriptionID: req.SubscriptionID,
	})
	if err != nil {
		rtr.Unregister(corrID)
		return "", errors.CryptoError("failed to marshal single payment request", err)
	}

	sp := &SinglePayment{
		deadline:       deadline{at: expiresAt},
		id:             id,
		correlationID:  corrID,
		recipient:      req.Recipient,
		subscriptionID: req.SubscriptionID,
		state:          spSent,
		stop:           make(chan struct{}),
	}

	if err := rt.Spawn(id, "single_payment", sp, sink, func() { rtr.Unregister(corrID); close(sp.stop) }); err != nil {
		rtr.Unregister(corrID)
		return "", err
	}

	if err := sink.PublishEnvelope(req.Recipient, envelope.Envelope{
		Subkind:       envelope.SubkindSinglePaymentRequest,
		CorrelationID: corrID,
		ExpiresAt:     &expiresAt,
		Body:          body,
	}); err != nil {
		rt.Cancel(id)
		return "", err
	}

	go pumpToRuntime(rt, id, inbox, sp.stop)
	return id, nil
}

func (s *SinglePayment) OnEvent(in *envelope.Inbound, sink runtime.EffectSink) {
	if in.CorrelationID != s.correlationID || in.Subkind != envelope.SubkindSinglePaymentResponse {
		return
	}
	var body singlePaymentResponseBody
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return
	}

	switch body.Status {
	case "approved":
		if s.state != spSent {
			return
		}
		s.state = spUserApproved
		sink.EmitNotification(SinglePaymentStatus{Status: "approved", SubscriptionID: s.subscriptionID})
	case "rejected":
		if s.state != spSent {
			return
		}
		sink.EmitNotification(SinglePaymentStatus{Status: "rejected", SubscriptionID: s.subscriptionID})
		sink.CompleteErr(errors.UserDecisionError(body.Reason))
	case "succeeded":
		if s.state != spUserApproved {
			return
		}
		s.state = spUserSucceeded
		sink.EmitNotification(SinglePaymentStatus{Status: "succeeded", SubscriptionID: s.subscriptionID})
	case "failed":
		if s.state != spUserApproved {
			return
		}
		sink.EmitNotification(SinglePaymentStatus{Status: "failed", SubscriptionID: s.subscriptionID})
		sink.CompleteErr(errors.BackendFailureError("peer_wallet", "pay", errors.New(errors.ErrorTypeExternal, "PAYMENT_FAILED", body.Reason)))
	case "paid":
		if s.state != spUserSucceeded {
			return
		}
		sink.EmitNotification(SinglePaymentStatus{Status: "paid", SubscriptionID: s.subscriptionID})
		sink.CompleteOk(SinglePaymentResult{Preimage: body.Preimage, SubscriptionID: s.subscriptionID})
	case "error":
		sink.EmitNotification(SinglePaymentStatus{Status: "error", SubscriptionID: s.subscriptionID})
		sink.CompleteErr(errors.ProtocolError(s.id, body.Reason))
	}
}

func (s *SinglePayment) OnTimer(firedAt time.Time, sink runtime.EffectSink) {
	_ = sink.PublishEnvelope(s.recipient, envelope.Envelope{
		Subkind:       envelope.SubkindSinglePaymentRequest,
		CorrelationID: s.correlationID,
		Body:          mustCancelBody(),
	})
	sink.CompleteErr(errors.ConversationTimeoutError(s.id))
}

func (s *SinglePayment) OnCancel(sink runtime.EffectSink) {
	_ = sink.PublishEnvelope(s.recipient, envelope.Envelope{
		Subkind:       envelope.SubkindSinglePaymentRequest,
		CorrelationID: s.correlationID,
		Body:          mustCancelBody(),
	})
	sink.CompleteErr(errors.UserDecisionError("single payment canceled"))
}

func (s *SinglePayment) OnClientIntent(payload any, sink runtime.EffectSink) {}

// cancelBody is the {"cancel": true} body SinglePayment publishes on
// timeout or explicit close, a minimal signal a counterparty can
// recognize.
type cancelBody struct {
	Cancel bool `json:"cancel"`
}

func mustCancelBody() json.RawMessage {
	b, _ := json.Marshal(cancelBody{Cancel: true})
	return b
}
