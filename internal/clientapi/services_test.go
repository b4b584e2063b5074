package clientapi

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Shugur-Network/portal/internal/convo"
	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/identity"
	"github.com/Shugur-Network/portal/internal/jwtauth"
	"github.com/Shugur-Network/portal/internal/registry"
	"github.com/Shugur-Network/portal/internal/relaypool"
	"github.com/Shugur-Network/portal/internal/router"
	"github.com/Shugur-Network/portal/internal/runtime"
)

func testServices(t *testing.T) *Services {
	t.Helper()
	id, err := identity.New(strings.Repeat("0", 63) + "1")
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}

	pool, err := relaypool.NewPool(context.Background(), relaypool.Config{})
	if err != nil {
		t.Fatalf("relaypool.NewPool: %v", err)
	}
	rtr := router.New(id, pool, time.Minute, 64)
	rt := runtime.New(runtime.Config{})
	pub := fakeRegistryPublisher{}
	reg := registry.New(pub, 8)

	return &Services{
		ServerID:  id,
		AuthToken: "test-auth-token",
		Runtime:   rt,
		Router:    rtr,
		Registry:  reg,
		Pool:      pool,
		JWTIssuer: jwtauth.New(id),
	}
}

type fakeRegistryPublisher struct{}

func (fakeRegistryPublisher) PublishEnvelope(recipient string, env envelope.Envelope) error {
	return nil
}

func TestDispatchUnknownCommandReturnsClientFault(t *testing.T) {
	s := testServices(t)
	_, err := s.Dispatch(context.Background(), "no.such.command", nil)
	appErr, ok := err.(*errors.AppError)
	if !ok || appErr.Code != "UNKNOWN_COMMAND" {
		t.Fatalf("expected UNKNOWN_COMMAND, got %+v ok=%v", err, ok)
	}
}

func TestDispatchMissingParamsReturnsClientFault(t *testing.T) {
	s := testServices(t)
	_, err := s.Dispatch(context.Background(), CmdAuthChallengeStart, nil)
	appErr, ok := err.(*errors.AppError)
	if !ok || appErr.Code != "MISSING_PARAMS" {
		t.Fatalf("expected MISSING_PARAMS, got %+v ok=%v", err, ok)
	}
}

func TestDispatchKeyHandshakeStartReturnsSubscriptionAndURL(t *testing.T) {
	s := testServices(t)
	out, err := s.Dispatch(context.Background(), CmdKeyHandshakeStart, nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.subscriptionID == "" {
		t.Fatal("expected a subscription id for key_handshake.start")
	}
	url, ok := out.result.(convo.HandshakeURL)
	if !ok || url.ServerPubkey != s.ServerID.PublicKeyHex {
		t.Fatalf("unexpected key_handshake.start result: %+v ok=%v", out.result, ok)
	}
}

func TestJwtIssueAndVerifyRoundTrip(t *testing.T) {
	s := testServices(t)

	issueParams, _ := json.Marshal(jwtIssueParams{TargetKey: "target-key", DurationHours: 1})
	out, err := s.Dispatch(context.Background(), CmdJwtIssue, issueParams)
	if err != nil {
		t.Fatalf("jwt.issue: %v", err)
	}
	tokenStruct, ok := out.result.(struct {
		Token string `json:"token"`
	})
	if !ok || tokenStruct.Token == "" {
		t.Fatalf("unexpected jwt.issue result: %+v ok=%v", out.result, ok)
	}

	verifyParams, _ := json.Marshal(jwtVerifyParams{PubkeyHex: s.ServerID.PublicKeyHex, Token: tokenStruct.Token})
	out, err = s.Dispatch(context.Background(), CmdJwtVerify, verifyParams)
	if err != nil {
		t.Fatalf("jwt.verify: %v", err)
	}
	verified, ok := out.result.(struct {
		TargetKey string `json:"target_key"`
	})
	if !ok || verified.TargetKey != "target-key" {
		t.Fatalf("unexpected jwt.verify result: %+v ok=%v", out.result, ok)
	}
}
