package convo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/mint"
	"github.com/Shugur-Network/portal/internal/router"
	"github.com/Shugur-Network/portal/internal/runtime"
)

const defaultCashuTimeout = 5 * time.Minute

// CashuResult is the terminal success{token} payload of RequestCashu.
type CashuResult struct {
	Token string `json:"token"`
}

type cashuRequestBody struct {
	MintURL string `json:"mint_url"`
	Unit    string `json:"unit"`
	Amount  int64  `json:"amount"`
}

type cashuResponseBody struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RequestCashu implements §4.5.6's first bullet: ask recipient to mint and
// hand over a Cashu token.
type RequestCashu struct {
	deadline
	id            string
	correlationID string
	recipient     string
	stop          chan struct{}
}

// StartRequestCashu publishes cashu_request to recipient and spawns the
// conversation awaiting cashu_response.
func StartRequestCashu(rt *runtime.Runtime, rtr *router.Router, recipient, mintURL, unit string, amount int64, sink runtime.EffectSink) (string, error) {
	corrID := NewCorrelationID()
	id := NewCorrelationID()
	expiresAt := time.Now().Add(defaultCashuTimeout)

	inbox, err := rtr.Register(corrID)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(cashuRequestBody{MintURL: mintURL, Unit: unit, Amount: amount})
	if err != nil {
		rtr.Unregister(corrID)
		return "", errors.CryptoError("failed to marshal cashu request", err)
	}

	rc := &RequestCashu{
		deadline:      deadline{at: expiresAt},
		id:            id,
		correlationID: corrID,
		recipient:     recipient,
		stop:          make(chan struct{}),
	}

	if err := rt.Spawn(id, "request_cashu", rc, sink, func() { rtr.Unregister(corrID); close(rc.stop) }); err != nil {
		rtr.Unregister(corrID)
		return "", err
	}

	if err := sink.PublishEnvelope(recipient, envelope.Envelope{
		Subkind:       envelope.SubkindCashuRequest,
		CorrelationID: corrID,
		ExpiresAt:     &expiresAt,
		Body:          body,
	}); err != nil {
		rt.Cancel(id)
		return "", err
	}

	go pumpToRuntime(rt, id, inbox, rc.stop)
	return id, nil
}

func (r *RequestCashu) OnEvent(in *envelope.Inbound, sink runtime.EffectSink) {
	if in.CorrelationID != r.correlationID || in.Subkind != envelope.SubkindCashuResponse {
		return
	}
	var body cashuResponseBody
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return
	}

	switch body.Status {
	case "success":
		sink.CompleteOk(CashuResult{Token: body.Token})
	case "insufficient_funds":
		sink.CompleteErr(errors.New(errors.ErrorTypeExternal, "INSUFFICIENT_FUNDS", "peer reported insufficient funds at the mint"))
	case "rejected":
		sink.CompleteErr(errors.UserDecisionError(body.Reason))
	default:
		sink.CompleteErr(errors.ProtocolError(r.id, "unrecognized cashu_response status: "+body.Status))
	}
}

func (r *RequestCashu) OnTimer(firedAt time.Time, sink runtime.EffectSink) {
	sink.CompleteErr(errors.ConversationTimeoutError(r.id))
}

func (r *RequestCashu) OnCancel(sink runtime.EffectSink) {
	sink.CompleteErr(errors.UserDecisionError("cashu request canceled"))
}

func (r *RequestCashu) OnClientIntent(payload any, sink runtime.EffectSink) {}

// SendCashuDirectResult is the terminal ack payload.
type SendCashuDirectResult struct {
	Acknowledged bool `json:"acknowledged"`
}

type cashuDirectBody struct {
	Token string `json:"token"`
}

// SendCashuDirect implements §4.5.6's second bullet: push a token to a
// peer unsolicited, succeeding on ack.
type SendCashuDirect struct {
	deadline
	id            string
	correlationID string
	recipient     string
	stop          chan struct{}
}

// StartSendCashuDirect publishes cashu_direct carrying token to recipient
// and spawns the conversation awaiting its ack.
func StartSendCashuDirect(rt *runtime.Runtime, rtr *router.Router, recipient, token string, sink runtime.EffectSink) (string, error) {
	corrID := NewCorrelationID()
	id := NewCorrelationID()
	expiresAt := time.Now().Add(defaultCashuTimeout)

	inbox, err := rtr.Register(corrID)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(cashuDirectBody{Token: token})
	if err != nil {
		rtr.Unregister(corrID)
		return "", errors.CryptoError("failed to marshal cashu direct", err)
	}

	sc := &SendCashuDirect{
		deadline:      deadline{at: expiresAt},
		id:            id,
		correlationID: corrID,
		recipient:     recipient,
		stop:          make(chan struct{}),
	}

	if err := rt.Spawn(id, "send_cashu_direct", sc, sink, func() { rtr.Unregister(corrID); close(sc.stop) }); err != nil {
		rtr.Unregister(corrID)
		return "", err
	}

	if err := sink.PublishEnvelope(recipient, envelope.Envelope{
		Subkind:       envelope.SubkindCashuDirect,
		CorrelationID: corrID,
		ExpiresAt:     &expiresAt,
		Body:          body,
	}); err != nil {
		rt.Cancel(id)
		return "", err
	}

	go pumpToRuntime(rt, id, inbox, sc.stop)
	return id, nil
}

func (s *SendCashuDirect) OnEvent(in *envelope.Inbound, sink runtime.EffectSink) {
	if in.CorrelationID != s.correlationID || in.Subkind != envelope.SubkindCashuDirectAck {
		return
	}
	sink.CompleteOk(SendCashuDirectResult{Acknowledged: true})
}

func (s *SendCashuDirect) OnTimer(firedAt time.Time, sink runtime.EffectSink) {
	sink.CompleteErr(errors.ConversationTimeoutError(s.id))
}

func (s *SendCashuDirect) OnCancel(sink runtime.EffectSink) {
	sink.CompleteErr(errors.UserDecisionError("send cashu direct canceled"))
}

func (s *SendCashuDirect) OnClientIntent(payload any, sink runtime.EffectSink) {}

// MintCashu and BurnCashu are synchronous calls into the Mint Adapter
// (§4.5.6: "not conversations"), called straight from the client-command
// handler rather than spawned into the runtime.

// MintCashu asks m to mint amount of unit at mintURL, returning a
// serialized bearer token. Returns a typed error if m is nil (no mint
// adapter configured), per §4.7 "absence makes the corresponding
// conversations refuse with a typed error at entry."
func MintCashu(ctx context.Context, m mint.Mint, mintURL, unit string, amount int64, staticAuth, description string) (string, error) {
	if m == nil {
		return "", errors.New(errors.ErrorTypeClientFault, "NO_MINT_ADAPTER", "no mint adapter configured")
	}
	return m.Mint(ctx, mintURL, unit, amount, staticAuth, description)
}

// BurnCashu redeems token at mintURL via m, returning the msat value
// received.
func BurnCashu(ctx context.Context, m mint.Mint, mintURL, unit, token, staticAuth string) (int64, error) {
	if m == nil {
		return 0, errors.New(errors.ErrorTypeClientFault, "NO_MINT_ADAPTER", "no mint adapter configured")
	}
	return m.Burn(ctx, mintURL, unit, token, staticAuth)
}
