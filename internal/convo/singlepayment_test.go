package convo

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/router"
	"github.com/Shugur-Network/portal/internal/runtime"
)

func startSinglePaymentForTest(t *testing.T, req SinglePaymentRequest) (*runtime.Runtime, *router.Router, string, *fakeSink) {
	t.Helper()
	server := newTestIdentity(t, testServerKeyHex)
	rtr := router.New(server, nil, time.Minute, 64)
	rt := runtime.New(runtime.Config{})
	sink := newFakeSink()

	id, err := StartSinglePayment(rt, rtr, req, sink)
	if err != nil {
		t.Fatalf("StartSinglePayment: %v", err)
	}
	return rt, rtr, id, sink
}

func deliverPaymentResponse(rt *runtime.Runtime, id, correlationID string, body singlePaymentResponseBody) {
	raw, _ := json.Marshal(body)
	rt.Deliver(id, runtime.Message{Kind: runtime.MsgEvent, Event: &envelope.Inbound{
		Envelope: envelope.Envelope{
			Subkind:       envelope.SubkindSinglePaymentResponse,
			CorrelationID: correlationID,
			Body:          raw,
		},
	}})
}

func TestSinglePaymentFullFlowCompletesWithPreimage(t *testing.T) {
	rt, _, id, sink := startSinglePaymentForTest(t, SinglePaymentRequest{
		Recipient:  "peer-pubkey",
		Mode:       RequestAmount,
		AmountMsat: 1000,
	})
	defer rt.Cancel(id)

	pub := expectPublish(t, sink)
	if pub.recipient != "peer-pubkey" || pub.env.Subkind != envelope.SubkindSinglePaymentRequest {
		t.Fatalf("unexpected initial publish: %+v", pub)
	}
	corrID := pub.env.CorrelationID

	deliverPaymentResponse(rt, id, corrID, singlePaymentResponseBody{Status: "approved"})
	note, ok := expectNotification(t, sink).(SinglePaymentStatus)
	if !ok || note.Status != "approved" {
		t.Fatalf("expected an approved notification, got %+v ok=%v", note, ok)
	}

	deliverPaymentResponse(rt, id, corrID, singlePaymentResponseBody{Status: "succeeded"})
	note, ok = expectNotification(t, sink).(SinglePaymentStatus)
	if !ok || note.Status != "succeeded" {
		t.Fatalf("expected a succeeded notification, got %+v ok=%v", note, ok)
	}

	deliverPaymentResponse(rt, id, corrID, singlePaymentResponseBody{Status: "paid", Preimage: "deadbeef"})
	waitSinkDone(t, sink)
	result, ok := sink.okResult.(SinglePaymentResult)
	if !ok || result.Preimage != "deadbeef" {
		t.Fatalf("expected a terminal result with the preimage, got %+v ok=%v", result, ok)
	}
}

func TestSinglePaymentRejectedCompletesErr(t *testing.T) {
	rt, _, id, sink := startSinglePaymentForTest(t, SinglePaymentRequest{Recipient: "peer-pubkey", Mode: RequestAmount, AmountMsat: 1000})
	defer rt.Cancel(id)

	pub := expectPublish(t, sink)
	deliverPaymentResponse(rt, id, pub.env.CorrelationID, singlePaymentResponseBody{Status: "rejected", Reason: "too expensive"})

	waitSinkDone(t, sink)
	appErr, ok := sink.errResult.(*errors.AppError)
	if !ok || appErr.Code != "USER_DECLINED" {
		t.Fatalf("expected a USER_DECLINED error, got %+v ok=%v", sink.errResult, ok)
	}
}

func TestSinglePaymentFailedAfterApprovalCompletesBackendFailure(t *testing.T) {
	rt, _, id, sink := startSinglePaymentForTest(t, SinglePaymentRequest{Recipient: "peer-pubkey", Mode: RequestAmount, AmountMsat: 1000})
	defer rt.Cancel(id)

	pub := expectPublish(t, sink)
	deliverPaymentResponse(rt, id, pub.env.CorrelationID, singlePaymentResponseBody{Status: "approved"})
	expectNotification(t, sink)

	deliverPaymentResponse(rt, id, pub.env.CorrelationID, singlePaymentResponseBody{Status: "failed", Reason: "insufficient balance"})
	waitSinkDone(t, sink)
	appErr, ok := sink.errResult.(*errors.AppError)
	if !ok || appErr.Code != "BACKEND_FAILURE" {
		t.Fatalf("expected a BACKEND_FAILURE error, got %+v ok=%v", sink.errResult, ok)
	}
}

// Out-of-order transitions (e.g. "succeeded" before "approved") must be
// ignored rather than letting the state machine jump ahead.
func TestSinglePaymentOutOfOrderSucceededBeforeApprovedIgnored(t *testing.T) {
	rt, _, id, sink := startSinglePaymentForTest(t, SinglePaymentRequest{Recipient: "peer-pubkey", Mode: RequestAmount, AmountMsat: 1000})
	defer rt.Cancel(id)

	pub := expectPublish(t, sink)
	deliverPaymentResponse(rt, id, pub.env.CorrelationID, singlePaymentResponseBody{Status: "succeeded"})

	expectNoPublish(t, sink)
	expectNotDone(t, sink)
	select {
	case n := <-sink.notifyCh:
		t.Fatalf("expected no notification for an out-of-order transition, got %+v", n)
	default:
	}
}

func TestSinglePaymentOnCancelPublishesCancelBodyAndCompletesErr(t *testing.T) {
	rt, _, id, sink := startSinglePaymentForTest(t, SinglePaymentRequest{Recipient: "peer-pubkey", Mode: RequestAmount, AmountMsat: 1000})
	defer rt.Cancel(id)

	expectPublish(t, sink) // the initial single_payment_request

	rt.Cancel(id)

	cancelPub := expectPublish(t, sink)
	var body cancelBody
	if err := json.Unmarshal(cancelPub.env.Body, &body); err != nil || !body.Cancel {
		t.Fatalf("expected a {cancel:true} body on cancellation, got %+v err=%v", body, err)
	}

	waitSinkDone(t, sink)
	appErr, ok := sink.errResult.(*errors.AppError)
	if !ok || appErr.Code != "USER_DECLINED" {
		t.Fatalf("expected a USER_DECLINED error on cancel, got %+v ok=%v", sink.errResult, ok)
	}
}
