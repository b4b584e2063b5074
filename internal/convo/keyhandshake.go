package convo

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/identity"
	"github.com/Shugur-Network/portal/internal/router"
	"github.com/Shugur-Network/portal/internal/runtime"
)

const (
	defaultHandshakeTimeout    = time.Hour
	defaultAuthChallengeWindow = 2 * time.Minute
)

// HandshakeURL is what a client command builds a QR code or deep link
// from: enough for a wallet app to construct key_handshake_response
// without any prior relationship with the server (§4.5.1 step 1).
type HandshakeURL struct {
	ServerPubkey    string   `json:"server_pubkey"`
	PreferredRelays []string `json:"preferred_relays"`
	HandshakeToken  string   `json:"handshake_token"`
	StaticToken     bool     `json:"static_token"`
	NoRequest       bool     `json:"no_request"`
}

// KeyHandshakeNotification is emitted on receipt of a matching
// key_handshake_response.
type KeyHandshakeNotification struct {
	MainKey         string   `json:"main_key"`
	PreferredRelays []string `json:"preferred_relays"`
}

// AuthChallengeOutcome is the terminal payload of the inlined AuthChallenge
// continuation (§4.5.2), or of the standalone AuthChallenge conversation in
// authchallenge.go.
type AuthChallengeOutcome struct {
	Approved           bool     `json:"approved"`
	GrantedPermissions []string `json:"granted_permissions,omitempty"`
	SessionToken       string   `json:"session_token,omitempty"`
	Reason             string   `json:"reason,omitempty"`
}

type keyHandshakeResponseBody struct {
	HandshakeToken  string   `json:"handshake_token"`
	MainKey         string   `json:"main_key"`
	Subkeys         []string `json:"subkeys,omitempty"`
	PreferredRelays []string `json:"preferred_relays,omitempty"`
}

type authChallengeBody struct {
	Nonce     string    `json:"nonce"`
	Recipient string    `json:"recipient"`
	ExpiresAt time.Time `json:"expires_at"`
}

type authResponseBody struct {
	ChallengeEcho      string   `json:"challenge_echo"`
	Status             string   `json:"status"`
	GrantedPermissions []string `json:"granted_permissions,omitempty"`
	SessionToken       string   `json:"session_token,omitempty"`
	Reason             string   `json:"reason,omitempty"`
}

type handshakePhase int

const (
	phaseWaiting handshakePhase = iota
	phaseAwaitingAuthResponse
)

// KeyHandshake implements §4.5.1, inlining the AuthChallenge sub-machine
// (§4.5.2) as a continuation rather than composing a second Conversation
// value, per the flow's "transitions to an AuthChallenge sub-machine...
// inlined" wording.
type KeyHandshake struct {
	rt       *runtime.Runtime
	router   *router.Router
	serverID *identity.Identity
	id       string

	token      string
	static     bool
	noRequest  bool
	deadlineAt time.Time

	removeListener func()
	stop           chan struct{}

	phase           handshakePhase
	authCorrelation string
	authNonce       string
	authExpiresAt   time.Time
	authTimer       *time.Timer
}

// StartKeyHandshake allocates a handshake token (unless staticToken is
// supplied for a reusable URL), installs the standing listener, and
// spawns the conversation. It returns the handshake URL fields the client
// command should render, plus the conversation/subscription id.
func StartKeyHandshake(rt *runtime.Runtime, rtr *router.Router, serverID *identity.Identity, preferredRelays []string, staticToken string, noRequest bool, sink runtime.EffectSink) (string, HandshakeURL, error) {
	token := staticToken
	static := staticToken != ""
	if !static {
		var raw [16]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return "", HandshakeURL{}, errors.CryptoError("failed to generate handshake token", err)
		}
		token = hex.EncodeToString(raw[:])
	}

	id := NewCorrelationID()
	kh := &KeyHandshake{
		rt:         rt,
		router:     rtr,
		serverID:   serverID,
		id:         id,
		token:      token,
		static:     static,
		noRequest:  noRequest,
		deadlineAt: time.Now().Add(defaultHandshakeTimeout),
		phase:      phaseWaiting,
		stop:       make(chan struct{}),
	}
	if static {
		kh.deadlineAt = time.Now().Add(100 * 365 * 24 * time.Hour) // unbounded, bounded only by explicit cancel
	}

	match := func(in *envelope.Inbound) bool {
		if in.Subkind != envelope.SubkindKeyHandshakeResponse {
			return false
		}
		var body keyHandshakeResponseBody
		if err := json.Unmarshal(in.Body, &body); err != nil {
			return false
		}
		return body.HandshakeToken == token
	}

	inbox, remove, err := rtr.AddStandingListener("key_handshake", match)
	if err != nil {
		return "", HandshakeURL{}, err
	}
	kh.removeListener = remove

	if err := rt.Spawn(id, "key_handshake", kh, sink, func() { remove(); close(kh.stop) }); err != nil {
		remove()
		return "", HandshakeURL{}, err
	}

	go pumpToRuntime(rt, id, inbox, kh.stop)

	return id, HandshakeURL{
		ServerPubkey:    serverID.PublicKeyHex,
		PreferredRelays: preferredRelays,
		HandshakeToken:  token,
		StaticToken:     static,
		NoRequest:       noRequest,
	}, nil
}

func (k *KeyHandshake) Deadline() time.Time { return k.deadlineAt }

func (k *KeyHandshake) OnEvent(in *envelope.Inbound, sink runtime.EffectSink) {
	switch k.phase {
	case phaseWaiting:
		k.onHandshakeResponse(in, sink)
	case phaseAwaitingAuthResponse:
		k.onAuthResponse(in, sink)
	}
}

func (k *KeyHandshake) onHandshakeResponse(in *envelope.Inbound, sink runtime.EffectSink) {
	var body keyHandshakeResponseBody
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return
	}

	sink.EmitNotification(KeyHandshakeNotification{
		MainKey:         body.MainKey,
		PreferredRelays: body.PreferredRelays,
	})

	if k.noRequest {
		if !k.static {
			sink.CompleteOk(nil)
		}
		return
	}
	if k.static {
		// Static reusable URLs never auto-chain into an auth request;
		// each reuse only re-notifies.
		return
	}

	k.beginAuthChallenge(body.MainKey, sink)
}

func (k *KeyHandshake) beginAuthChallenge(mainKey string, sink runtime.EffectSink) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		sink.CompleteErr(errors.CryptoError("failed to generate auth challenge nonce", err))
		return
	}
	nonceHex := hex.EncodeToString(nonce[:])
	expiresAt := time.Now().Add(defaultAuthChallengeWindow)

	corrID := NewCorrelationID()
	inbox, err := k.router.Register(corrID)
	if err != nil {
		sink.CompleteErr(err)
		return
	}

	body, err := json.Marshal(authChallengeBody{Nonce: nonceHex, Recipient: mainKey, ExpiresAt: expiresAt})
	if err != nil {
		k.router.Unregister(corrID)
		sink.CompleteErr(errors.CryptoError("failed to marshal auth challenge", err))
		return
	}

	if err := sink.PublishEnvelope(mainKey, envelope.Envelope{
		Subkind:       envelope.SubkindAuthChallenge,
		CorrelationID: corrID,
		ExpiresAt:     &expiresAt,
		Body:          body,
	}); err != nil {
		k.router.Unregister(corrID)
		sink.CompleteErr(err)
		return
	}

	k.phase = phaseAwaitingAuthResponse
	k.authCorrelation = corrID
	k.authNonce = nonceHex
	k.authExpiresAt = expiresAt

	go pumpToRuntime(k.rt, k.id, inbox, k.stop)
	k.authTimer = time.AfterFunc(defaultAuthChallengeWindow, func() {
		k.rt.Deliver(k.id, runtime.Message{Kind: runtime.MsgTimer, FiredAt: time.Now()})
	})
}

func (k *KeyHandshake) onAuthResponse(in *envelope.Inbound, sink runtime.EffectSink) {
	if in.CorrelationID != k.authCorrelation {
		return
	}
	var body authResponseBody
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return
	}
	if body.ChallengeEcho != k.authNonce {
		return
	}

	k.stopAuthTimer()
	k.router.Unregister(k.authCorrelation)

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
		sink.CompleteErr(errors.ProtocolError(k.id, "unrecognized auth_response status: "+body.Status))
	}
}

func (k *KeyHandshake) OnTimer(firedAt time.Time, sink runtime.EffectSink) {
	if k.phase != phaseAwaitingAuthResponse {
		// Outer handshake deadline elapsed with nobody ever completing a
		// handshake; the runtime's own grace-window path handles this as
		// ConversationTimeoutError once OnTimer returns without completing.
		return
	}
	if firedAt.Before(k.authExpiresAt) {
		return
	}
	k.router.Unregister(k.authCorrelation)
	sink.CompleteErr(errors.ConversationTimeoutError(k.id))
}

func (k *KeyHandshake) OnCancel(sink runtime.EffectSink) {
	k.stopAuthTimer()
	if k.phase == phaseAwaitingAuthResponse {
		k.router.Unregister(k.authCorrelation)
	}
	sink.CompleteErr(errors.UserDecisionError("handshake canceled"))
}

func (k *KeyHandshake) OnClientIntent(payload any, sink runtime.EffectSink) {}

func (k *KeyHandshake) stopAuthTimer() {
	if k.authTimer != nil {
		k.authTimer.Stop()
	}
}

// pumpToRuntime forwards a router inbox to the runtime's inbound delivery
// path for conversationID until stop closes (the conversation's own
// termination) or the conversation has already been removed from the
// runtime (Deliver returns false). The router never closes correlation or
// listener channels itself — Unregister/remove only stop further sends —
// so every pump needs its own stop signal rather than relying on the
// channel closing.
func pumpToRuntime(rt *runtime.Runtime, conversationID string, inbox <-chan *envelope.Inbound, stop <-chan struct{}) {
	for {
		select {
		case in := <-inbox:
			if !rt.Deliver(conversationID, runtime.Message{Kind: runtime.MsgEvent, Event: in}) {
				return
			}
		case <-stop:
			return
		}
	}
}
