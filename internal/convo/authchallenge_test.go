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

func TestAuthChallengeApprovedCompletesOk(t *testing.T) {
	server := newTestIdentity(t, testServerKeyHex)
	peer := newTestIdentity(t, testPeerKeyHex)
	rtr := router.New(server, nil, time.Minute, 64)
	rt := runtime.New(runtime.Config{})
	sink := newFakeSink()

	id, err := StartAuthChallenge(rt, rtr, peer.PublicKeyHex, sink)
	if err != nil {
		t.Fatalf("StartAuthChallenge: %v", err)
	}
	defer rt.Cancel(id)

	pub := expectPublish(t, sink)
	if pub.recipient != peer.PublicKeyHex || pub.env.Subkind != envelope.SubkindAuthChallenge {
		t.Fatalf("unexpected published envelope: %+v", pub)
	}

	var challenge authChallengeBody
	if err := json.Unmarshal(pub.env.Body, &challenge); err != nil {
		t.Fatalf("unmarshal auth challenge body: %v", err)
	}

	respRaw, _ := json.Marshal(authResponseBody{ChallengeEcho: challenge.Nonce, Status: "approved", SessionToken: "tok"})
	rt.Deliver(id, runtime.Message{Kind: runtime.MsgEvent, Event: &envelope.Inbound{
		Envelope: envelope.Envelope{Subkind: envelope.SubkindAuthResponse, CorrelationID: pub.env.CorrelationID, Body: respRaw},
		Author:   peer.PublicKeyHex,
	}})

	waitSinkDone(t, sink)
	outcome, ok := sink.okResult.(AuthChallengeOutcome)
	if !ok || !outcome.Approved || outcome.SessionToken != "tok" {
		t.Fatalf("unexpected outcome: %+v ok=%v", outcome, ok)
	}
}

func TestAuthChallengeWrongChallengeEchoIgnored(t *testing.T) {
	server := newTestIdentity(t, testServerKeyHex)
	peer := newTestIdentity(t, testPeerKeyHex)
	rtr := router.New(server, nil, time.Minute, 64)
	rt := runtime.New(runtime.Config{})
	sink := newFakeSink()

	id, err := StartAuthChallenge(rt, rtr, peer.PublicKeyHex, sink)
	if err != nil {
		t.Fatalf("StartAuthChallenge: %v", err)
	}
	defer rt.Cancel(id)

	pub := expectPublish(t, sink)

	respRaw, _ := json.Marshal(authResponseBody{ChallengeEcho: "wrong-nonce", Status: "approved"})
	rt.Deliver(id, runtime.Message{Kind: runtime.MsgEvent, Event: &envelope.Inbound{
		Envelope: envelope.Envelope{Subkind: envelope.SubkindAuthResponse, CorrelationID: pub.env.CorrelationID, Body: respRaw},
		Author:   peer.PublicKeyHex,
	}})

	expectNotDone(t, sink)
}

func TestAuthChallengeOnTimerCompletesTimeoutErr(t *testing.T) {
	ac := &AuthChallenge{id: "ac-timeout", stop: make(chan struct{})}
	sink := newFakeSink()

	ac.OnTimer(time.Now(), sink)

	waitSinkDone(t, sink)
	appErr, ok := sink.errResult.(*errors.AppError)
	if !ok || appErr.Code != "CONVERSATION_TIMED_OUT" {
		t.Fatalf("expected a CONVERSATION_TIMED_OUT error, got %+v ok=%v", sink.errResult, ok)
	}
}
