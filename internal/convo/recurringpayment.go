package convo

import (
	"encoding/json"
	"time"

	"github.com/Shugur-Network/portal/internal/calendar"
	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/router"
	"github.com/Shugur-Network/portal/internal/runtime"
)

const (
	defaultRecurringRequestTimeout = 5 * time.Minute
	defaultRecurringCloseTimeout   = 2 * time.Minute
)

// RecurringPaymentRequest is the client-intent payload for §4.5.4.
type RecurringPaymentRequest struct {
	Recipient   string
	AmountMsat  int64
	Currency    string
	Recurrence  calendar.Name
	Description string
}

// RecurringPaymentResult is the terminal confirmed-subscription payload.
// The server does not persist subscription state beyond this one-shot
// result (§4.5.4: "does not hold subscription state beyond the one-shot
// command").
type RecurringPaymentResult struct {
	SubscriptionID       string        `json:"subscription_id"`
	AuthorizedAmount     int64         `json:"authorized_amount"`
	AuthorizedCurrency   string        `json:"authorized_currency"`
	AuthorizedRecurrence calendar.Name `json:"authorized_recurrence"`
}

type recurringRequestBody struct {
	AmountMsat  int64         `json:"amount_msat"`
	Currency    string        `json:"currency"`
	Recurrence  calendar.Name `json:"recurrence"`
	Description string        `json:"description"`
}

type recurringResponseBody struct {
	Status               string        `json:"status"`
	SubscriptionID       string        `json:"subscription_id,omitempty"`
	AuthorizedAmount     int64         `json:"authorized_amount,omitempty"`
	AuthorizedCurrency   string        `json:"authorized_currency,omitempty"`
	AuthorizedRecurrence calendar.Name `json:"authorized_recurrence,omitempty"`
	Reason               string        `json:"reason,omitempty"`
}

// RecurringPayment implements §4.5.4's establishment flow.
type RecurringPayment struct {
	deadline
	id              string
	correlationID   string
	recipient       string
	requestedAmount int64
	stop            chan struct{}
}

// StartRecurringPayment publishes recurring_request and spawns the
// conversation awaiting recurring_response.
func StartRecurringPayment(rt *runtime.Runtime, rtr *router.Router, req RecurringPaymentRequest, sink runtime.EffectSink) (string, error) {
	corrID := NewCorrelationID()
	id := NewCorrelationID()
	expiresAt := time.Now().Add(defaultRecurringRequestTimeout)

	inbox, err := rtr.Register(corrID)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(recurringRequestBody{
		AmountMsat:  req.AmountMsat,
		Currency:    req.Currency,
		Recurrence:  req.Recurrence,
		Description: req.Description,
	})
	if err != nil {
		rtr.Unregister(corrID)
		return "", errors.CryptoError("failed to marshal recurring request", err)
	}

	rp := &RecurringPayment{
		deadline:        deadline{at: expiresAt},
		id:              id,
		correlationID:   corrID,
		recipient:       req.Recipient,
		requestedAmount: req.AmountMsat,
		stop:            make(chan struct{}),
	}

	if err := rt.Spawn(id, "recurring_payment", rp, sink, func() { rtr.Unregister(corrID); close(rp.stop) }); err != nil {
		rtr.Unregister(corrID)
		return "", err
	}

	if err := sink.PublishEnvelope(req.Recipient, envelope.Envelope{
		Subkind:       envelope.SubkindRecurringPaymentReq,
		CorrelationID: corrID,
		ExpiresAt:     &expiresAt,
		Body:          body,
	}); err != nil {
		rt.Cancel(id)
		return "", err
	}

	go pumpToRuntime(rt, id, inbox, rp.stop)
	return id, nil
}

func (r *RecurringPayment) OnEvent(in *envelope.Inbound, sink runtime.EffectSink) {
	if in.CorrelationID != r.correlationID || in.Subkind != envelope.SubkindRecurringPaymentResp {
		return
	}
	var body recurringResponseBody
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return
	}

	switch body.Status {
	case "confirmed":
		if body.AuthorizedAmount > r.requestedAmount {
			sink.CompleteErr(errors.New(errors.ErrorTypeProtocol, "AUTHORIZED_EXCEEDS_REQUESTED", "authorized_amount exceeds the requested amount"))
			return
		}
		sink.CompleteOk(RecurringPaymentResult{
			SubscriptionID:       body.SubscriptionID,
			AuthorizedAmount:     body.AuthorizedAmount,
			AuthorizedCurrency:   body.AuthorizedCurrency,
			AuthorizedRecurrence: body.AuthorizedRecurrence,
		})
	case "rejected":
		sink.CompleteErr(errors.UserDecisionError(body.Reason))
	default:
		sink.CompleteErr(errors.ProtocolError(r.id, "unrecognized recurring_response status: "+body.Status))
	}
}

func (r *RecurringPayment) OnTimer(firedAt time.Time, sink runtime.EffectSink) {
	sink.CompleteErr(errors.ConversationTimeoutError(r.id))
}

func (r *RecurringPayment) OnCancel(sink runtime.EffectSink) {
	sink.CompleteErr(errors.UserDecisionError("recurring payment request canceled"))
}

func (r *RecurringPayment) OnClientIntent(payload any, sink runtime.EffectSink) {}

// CloseRecurringPaymentResult is the terminal payload of
// CloseRecurringPayment: whether the peer acknowledged the close.
type CloseRecurringPaymentResult struct {
	Acknowledged bool `json:"acknowledged"`
}

type closeRecurringBody struct {
	SubscriptionID string `json:"subscription_id"`
}

// CloseRecurringPayment implements §4.5.4's close flow: publish a close
// envelope and await an ack or time out.
type CloseRecurringPayment struct {
	deadline
	id            string
	correlationID string
	recipient     string
	stop          chan struct{}
}

// StartCloseRecurringPayment publishes a close envelope for subscriptionID
// to recipient and spawns the conversation awaiting its ack.
func StartCloseRecurringPayment(rt *runtime.Runtime, rtr *router.Router, recipient, subscriptionID string, sink runtime.EffectSink) (string, error) {
	corrID := NewCorrelationID()
	id := NewCorrelationID()
	expiresAt := time.Now().Add(defaultRecurringCloseTimeout)

	inbox, err := rtr.Register(corrID)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(closeRecurringBody{SubscriptionID: subscriptionID})
	if err != nil {
		rtr.Unregister(corrID)
		return "", errors.CryptoError("failed to marshal close recurring payment", err)
	}

	cp := &CloseRecurringPayment{
		deadline:      deadline{at: expiresAt},
		id:            id,
		correlationID: corrID,
		recipient:     recipient,
		stop:          make(chan struct{}),
	}

	if err := rt.Spawn(id, "close_recurring_payment", cp, sink, func() { rtr.Unregister(corrID); close(cp.stop) }); err != nil {
		rtr.Unregister(corrID)
		return "", err
	}

	if err := sink.PublishEnvelope(recipient, envelope.Envelope{
		Subkind:       envelope.SubkindRecurringPaymentClose,
		CorrelationID: corrID,
		ExpiresAt:     &expiresAt,
		Body:          body,
	}); err != nil {
		rt.Cancel(id)
		return "", err
	}

	go pumpToRuntime(rt, id, inbox, cp.stop)
	return id, nil
}

func (c *CloseRecurringPayment) OnEvent(in *envelope.Inbound, sink runtime.EffectSink) {
	if in.CorrelationID != c.correlationID || in.Subkind != envelope.SubkindRecurringPaymentAck {
		return
	}
	sink.CompleteOk(CloseRecurringPaymentResult{Acknowledged: true})
}

func (c *CloseRecurringPayment) OnTimer(firedAt time.Time, sink runtime.EffectSink) {
	sink.CompleteErr(errors.ConversationTimeoutError(c.id))
}

func (c *CloseRecurringPayment) OnCancel(sink runtime.EffectSink) {
	sink.CompleteErr(errors.UserDecisionError("close recurring payment canceled"))
}

func (c *CloseRecurringPayment) OnClientIntent(payload any, sink runtime.EffectSink) {}

// ClosedRecurringNotice is emitted for every unsolicited closed_recurring
// envelope ListenClosedRecurring receives, from any peer.
type ClosedRecurringNotice struct {
	SubscriptionID string `json:"subscription_id"`
	Recipient      string `json:"recipient"`
	Reason         string `json:"reason,omitempty"`
}

type closedRecurringBody struct {
	SubscriptionID string `json:"subscription_id"`
	Recipient      string `json:"recipient"`
	Reason         string `json:"reason,omitempty"`
}

// ListenClosedRecurring installs a standing listener for unsolicited
// closed_recurring envelopes (§4.5.4's long-lived filter), emitting a
// notification for each one until the client unsubscribes.
type ListenClosedRecurring struct {
	id             string
	removeListener func()
	stop           chan struct{}
}

// StartListenClosedRecurring installs the standing listener and spawns the
// conversation; it never completes on its own, only on explicit cancel.
func StartListenClosedRecurring(rt *runtime.Runtime, rtr *router.Router, sink runtime.EffectSink) (string, error) {
	id := NewCorrelationID()

	match := func(in *envelope.Inbound) bool {
		return in.Subkind == envelope.SubkindClosedRecurring
	}
	inbox, remove, err := rtr.AddStandingListener("closed_recurring", match)
	if err != nil {
		return "", err
	}

	lc := &ListenClosedRecurring{id: id, removeListener: remove, stop: make(chan struct{})}
	if err := rt.Spawn(id, "listen_closed_recurring", lc, sink, func() { remove(); close(lc.stop) }); err != nil {
		remove()
		return "", err
	}

	go pumpToRuntime(rt, id, inbox, lc.stop)
	return id, nil
}

func (l *ListenClosedRecurring) Deadline() time.Time {
	return time.Now().Add(100 * 365 * 24 * time.Hour)
}

func (l *ListenClosedRecurring) OnEvent(in *envelope.Inbound, sink runtime.EffectSink) {
	var body closedRecurringBody
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return
	}
	sink.EmitNotification(ClosedRecurringNotice{
		SubscriptionID: body.SubscriptionID,
		Recipient:      body.Recipient,
		Reason:         body.Reason,
	})
}

func (l *ListenClosedRecurring) OnTimer(firedAt time.Time, sink runtime.EffectSink) {}

func (l *ListenClosedRecurring) OnCancel(sink runtime.EffectSink) {
	sink.CompleteOk(nil)
}

func (l *ListenClosedRecurring) OnClientIntent(payload any, sink runtime.EffectSink) {}
