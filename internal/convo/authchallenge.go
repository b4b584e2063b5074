package convo

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/router"
	"github.com/Shugur-Network/portal/internal/runtime"
)

// AuthChallenge implements §4.5.2 as a standalone conversation, for a
// client command that wants to re-prove key possession without a
// preceding KeyHandshake (the same flow KeyHandshake inlines as a
// continuation in keyhandshake.go).
type AuthChallenge struct {
	deadline
	id            string
	correlationID string
	recipient     string
	nonce         string
	stop          chan struct{}
}

// StartAuthChallenge sends an auth_challenge to recipient (a main_key) and
// spawns the conversation awaiting its auth_response.
func StartAuthChallenge(rt *runtime.Runtime, rtr *router.Router, recipient string, sink runtime.EffectSink) (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", errors.CryptoError("failed to generate auth challenge nonce", err)
	}
	nonceHex := hex.EncodeToString(nonce[:])
	expiresAt := time.Now().Add(defaultAuthChallengeWindow)

	corrID := NewCorrelationID()
	id := NewCorrelationID()

	inbox, err := rtr.Register(corrID)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(authChallengeBody{Nonce: nonceHex, Recipient: recipient, ExpiresAt: expiresAt})
	if err != nil {
		rtr.Unregister(corrID)
		return "", errors.CryptoError("failed to marshal auth challenge", err)
	}

	ac := &AuthChallenge{
		deadline:      deadline{at: expiresAt},
		id:            id,
		correlationID: corrID,
		recipient:     recipient,
		nonce:         nonceHex,
		stop:          make(chan struct{}),
	}

	if err := rt.Spawn(id, "auth_challenge", ac, sink, func() { rtr.Unregister(corrID); close(ac.stop) }); err != nil {
		rtr.Unregister(corrID)
		return "", err
	}

	if err := sink.PublishEnvelope(recipient, envelope.Envelope{
		Subkind:       envelope.SubkindAuthChallenge,
		CorrelationID: corrID,
		ExpiresAt:     &expiresAt,
		Body:          body,
	}); err != nil {
		rt.Cancel(id)
		return "", err
	}

	go pumpToRuntime(rt, id, inbox, ac.stop)
	return id, nil
}

func (a *AuthChallenge) OnEvent(in *envelope.Inbound, sink runtime.EffectSink) {
	if in.CorrelationID != a.correlationID {
		return
	}
	var body authResponseBody
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return
	}
	if body.ChallengeEcho != a.nonce {
		return
	}

	switch body.Status {
	case "approved":
		sink.CompleteOk(AuthChallengeOutcome{
			Approved:           true,
			GrantedPermissions: body.GrantedPermissions,
			SessionToken:       body.SessionToken,
		})
	case "declined":
		sink.CompleteErr(errors.UserDecisionError(body.Reason))
	default:
		sink.CompleteErr(errors.ProtocolError(a.id, "unrecognized auth_response status: "+body.Status))
	}
}

func (a *AuthChallenge) OnTimer(firedAt time.Time, sink runtime.EffectSink) {
	sink.CompleteErr(errors.ConversationTimeoutError(a.id))
}

func (a *AuthChallenge) OnCancel(sink runtime.EffectSink) {
	sink.CompleteErr(errors.UserDecisionError("auth challenge canceled"))
}

func (a *AuthChallenge) OnClientIntent(payload any, sink runtime.EffectSink) {}
