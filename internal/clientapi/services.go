package clientapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Shugur-Network/portal/internal/calendar"
	"github.com/Shugur-Network/portal/internal/convo"
	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/identity"
	"github.com/Shugur-Network/portal/internal/jwtauth"
	"github.com/Shugur-Network/portal/internal/mint"
	"github.com/Shugur-Network/portal/internal/nip05"
	"github.com/Shugur-Network/portal/internal/registry"
	"github.com/Shugur-Network/portal/internal/relaypool"
	"github.com/Shugur-Network/portal/internal/router"
	"github.com/Shugur-Network/portal/internal/runtime"
	"github.com/Shugur-Network/portal/internal/wallet"
)

// Services bundles every backend component a client command needs to
// reach, handed to the transport layer fully constructed by internal/app.
// It holds no per-session state; every method is safe to call
// concurrently from many sessions.
type Services struct {
	ServerID        *identity.Identity
	PreferredRelays []string
	AuthToken       string

	Runtime  *runtime.Runtime
	Router   *router.Router
	Registry *registry.Registry
	Pool     *relaypool.Pool

	Wallet        wallet.Wallet
	Mint          mint.Mint
	JWTIssuer     *jwtauth.Issuer
	Nip05Resolver *nip05.Resolver
}

// outcome is what Dispatch returns for one command: a subscription_id when
// the command spawned a conversation the client should stream notifications
// from, and/or an immediate result value (e.g. HandshakeURL, a profile
// lookup, a minted token) available synchronously.
type outcome struct {
	subscriptionID string
	result         any
}

// Dispatch decodes params for command and runs it, returning the
// subscription/result pair for a success frame. The caller (Session) is
// responsible for authentication gating before ever calling Dispatch.
func (s *Services) Dispatch(ctx context.Context, command string, params json.RawMessage) (outcome, error) {
	switch command {
	case CmdKeyHandshakeStart:
		return s.startKeyHandshake(params)
	case CmdAuthChallengeStart:
		return s.startAuthChallenge(params)
	case CmdSinglePaymentStart:
		return s.startSinglePayment(params)
	case CmdRecurringPaymentStart:
		return s.startRecurringPayment(params)
	case CmdRecurringPaymentClose:
		return s.startCloseRecurringPayment(params)
	case CmdListenClosedRecurring:
		return s.startListenClosedRecurring()
	case CmdInvoiceRequestStart:
		return s.startInvoiceRequest(params)
	case CmdInvoicePayStart:
		return s.startInvoicePay(params)
	case CmdCashuRequestStart:
		return s.startRequestCashu(params)
	case CmdCashuSendDirectStart:
		return s.startSendCashuDirect(params)
	case CmdCashuMint:
		return s.cashuMint(ctx, params)
	case CmdCashuBurn:
		return s.cashuBurn(ctx, params)
	case CmdProfileFetch:
		return s.profileFetch(ctx, params)
	case CmdNip05Lookup:
		return s.nip05Lookup(ctx, params)
	case CmdJwtIssue:
		return s.jwtIssue(params)
	case CmdJwtVerify:
		return s.jwtVerify(params)
	default:
		return outcome{}, errors.ClientFaultError("UNKNOWN_COMMAND", "no such command: "+command)
	}
}

// openSink allocates a fresh subscription and returns it alongside the
// EffectSink a convo.Start* call spawns its conversation with. Start*
// generates the conversation's own id internally and returns it; callers
// must set sub.ConversationID to that value once Start* succeeds, so a
// subscription can be mapped back to the runtime conversation it fronts
// (needed to cancel it on client unsubscribe/disconnect).
func (s *Services) openSink() (*registry.Subscription, registry.EffectSinkAdapter) {
	return s.Registry.Open("")
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return errors.ClientFaultError("MISSING_PARAMS", "command requires params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return errors.ClientFaultError("MALFORMED_PARAMS", "params did not match the expected shape: "+err.Error())
	}
	return nil
}

type keyHandshakeStartParams struct {
	StaticToken string `json:"static_token,omitempty"`
	NoRequest   bool   `json:"no_request,omitempty"`
}

func (s *Services) startKeyHandshake(params json.RawMessage) (outcome, error) {
	var p keyHandshakeStartParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return outcome{}, err
		}
	}

	sub, sink := s.openSink()
	id, url, err := convo.StartKeyHandshake(s.Runtime, s.Router, s.ServerID, s.PreferredRelays, p.StaticToken, p.NoRequest, sink)
	if err != nil {
		return outcome{}, err
	}
	sub.ConversationID = id
	return outcome{subscriptionID: sub.ID, result: url}, nil
}

type authChallengeStartParams struct {
	Recipient string `json:"recipient"`
}

func (s *Services) startAuthChallenge(params json.RawMessage) (outcome, error) {
	var p authChallengeStartParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	sub, sink := s.openSink()
	id, err := convo.StartAuthChallenge(s.Runtime, s.Router, p.Recipient, sink)
	if err != nil {
		return outcome{}, err
	}
	sub.ConversationID = id
	return outcome{subscriptionID: sub.ID}, nil
}

type singlePaymentStartParams struct {
	Recipient      string                   `json:"recipient"`
	Mode           convo.SinglePaymentMode  `json:"mode"`
	AmountMsat     int64                    `json:"amount_msat,omitempty"`
	Description    string                   `json:"description,omitempty"`
	Bolt11         string                   `json:"bolt11,omitempty"`
	SubscriptionID string                   `json:"subscription_id,omitempty"`
}

func (s *Services) startSinglePayment(params json.RawMessage) (outcome, error) {
	var p singlePaymentStartParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	sub, sink := s.openSink()
	req := convo.SinglePaymentRequest{
		Recipient:      p.Recipient,
		Mode:           p.Mode,
		AmountMsat:     p.AmountMsat,
		Description:    p.Description,
		Bolt11:         p.Bolt11,
		SubscriptionID: p.SubscriptionID,
	}
	id, err := convo.StartSinglePayment(s.Runtime, s.Router, req, sink)
	if err != nil {
		return outcome{}, err
	}
	sub.ConversationID = id
	return outcome{subscriptionID: sub.ID}, nil
}

type recurringPaymentStartParams struct {
	Recipient   string        `json:"recipient"`
	AmountMsat  int64         `json:"amount_msat"`
	Currency    string        `json:"currency"`
	Recurrence  calendar.Name `json:"recurrence"`
	Description string        `json:"description,omitempty"`
}

func (s *Services) startRecurringPayment(params json.RawMessage) (outcome, error) {
	var p recurringPaymentStartParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	sub, sink := s.openSink()
	req := convo.RecurringPaymentRequest{
		Recipient:   p.Recipient,
		AmountMsat:  p.AmountMsat,
		Currency:    p.Currency,
		Recurrence:  p.Recurrence,
		Description: p.Description,
	}
	id, err := convo.StartRecurringPayment(s.Runtime, s.Router, req, sink)
	if err != nil {
		return outcome{}, err
	}
	sub.ConversationID = id
	return outcome{subscriptionID: sub.ID}, nil
}

type recurringPaymentCloseParams struct {
	Recipient      string `json:"recipient"`
	SubscriptionID string `json:"subscription_id"`
}

func (s *Services) startCloseRecurringPayment(params json.RawMessage) (outcome, error) {
	var p recurringPaymentCloseParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	sub, sink := s.openSink()
	id, err := convo.StartCloseRecurringPayment(s.Runtime, s.Router, p.Recipient, p.SubscriptionID, sink)
	if err != nil {
		return outcome{}, err
	}
	sub.ConversationID = id
	return outcome{subscriptionID: sub.ID}, nil
}

func (s *Services) startListenClosedRecurring() (outcome, error) {
	sub, sink := s.openSink()
	id, err := convo.StartListenClosedRecurring(s.Runtime, s.Router, sink)
	if err != nil {
		return outcome{}, err
	}
	sub.ConversationID = id
	return outcome{subscriptionID: sub.ID}, nil
}

type invoiceRequestStartParams struct {
	Recipient   string `json:"recipient"`
	AmountMsat  int64  `json:"amount_msat"`
	Description string `json:"description,omitempty"`
}

func (s *Services) startInvoiceRequest(params json.RawMessage) (outcome, error) {
	var p invoiceRequestStartParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	sub, sink := s.openSink()
	id, err := convo.StartInvoiceRequest(s.Runtime, s.Router, p.Recipient, p.AmountMsat, p.Description, sink)
	if err != nil {
		return outcome{}, err
	}
	sub.ConversationID = id
	return outcome{subscriptionID: sub.ID}, nil
}

type invoicePayStartParams struct {
	Recipient   string `json:"recipient"`
	Bolt11      string `json:"bolt11"`
	Description string `json:"description,omitempty"`
}

func (s *Services) startInvoicePay(params json.RawMessage) (outcome, error) {
	var p invoicePayStartParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	sub, sink := s.openSink()
	id, err := convo.StartInvoicePay(s.Runtime, s.Router, p.Recipient, p.Bolt11, p.Description, sink)
	if err != nil {
		return outcome{}, err
	}
	sub.ConversationID = id
	return outcome{subscriptionID: sub.ID}, nil
}

type cashuRequestStartParams struct {
	Recipient string `json:"recipient"`
	MintURL   string `json:"mint_url"`
	Unit      string `json:"unit"`
	Amount    int64  `json:"amount"`
}

func (s *Services) startRequestCashu(params json.RawMessage) (outcome, error) {
	var p cashuRequestStartParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	sub, sink := s.openSink()
	id, err := convo.StartRequestCashu(s.Runtime, s.Router, p.Recipient, p.MintURL, p.Unit, p.Amount, sink)
	if err != nil {
		return outcome{}, err
	}
	sub.ConversationID = id
	return outcome{subscriptionID: sub.ID}, nil
}

type cashuSendDirectParams struct {
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
}

func (s *Services) startSendCashuDirect(params json.RawMessage) (outcome, error) {
	var p cashuSendDirectParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	sub, sink := s.openSink()
	id, err := convo.StartSendCashuDirect(s.Runtime, s.Router, p.Recipient, p.Token, sink)
	if err != nil {
		return outcome{}, err
	}
	sub.ConversationID = id
	return outcome{subscriptionID: sub.ID}, nil
}

type cashuMintParams struct {
	MintURL     string `json:"mint_url"`
	Unit        string `json:"unit"`
	Amount      int64  `json:"amount"`
	StaticAuth  string `json:"static_auth,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s *Services) cashuMint(ctx context.Context, params json.RawMessage) (outcome, error) {
	var p cashuMintParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	token, err := convo.MintCashu(ctx, s.Mint, p.MintURL, p.Unit, p.Amount, p.StaticAuth, p.Description)
	if err != nil {
		return outcome{}, err
	}
	return outcome{result: struct {
		Token string `json:"token"`
	}{Token: token}}, nil
}

type cashuBurnParams struct {
	MintURL    string `json:"mint_url"`
	Unit       string `json:"unit"`
	Token      string `json:"token"`
	StaticAuth string `json:"static_auth,omitempty"`
}

func (s *Services) cashuBurn(ctx context.Context, params json.RawMessage) (outcome, error) {
	var p cashuBurnParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	msat, err := convo.BurnCashu(ctx, s.Mint, p.MintURL, p.Unit, p.Token, p.StaticAuth)
	if err != nil {
		return outcome{}, err
	}
	return outcome{result: struct {
		AmountMsat int64 `json:"amount_msat"`
	}{AmountMsat: msat}}, nil
}

type profileFetchParams struct {
	MainKey      string `json:"main_key"`
	WindowSeconds int   `json:"window_seconds,omitempty"`
}

func (s *Services) profileFetch(ctx context.Context, params json.RawMessage) (outcome, error) {
	var p profileFetchParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	window := time.Duration(p.WindowSeconds) * time.Second
	metadata, err := convo.ProfileFetch(ctx, s.Pool, p.MainKey, window)
	if err != nil {
		return outcome{}, err
	}
	return outcome{result: metadata}, nil
}

type nip05LookupParams struct {
	Identifier string `json:"identifier"`
}

func (s *Services) nip05Lookup(ctx context.Context, params json.RawMessage) (outcome, error) {
	var p nip05LookupParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	result, err := convo.Nip05Lookup(ctx, s.Nip05Resolver, p.Identifier)
	if err != nil {
		return outcome{}, err
	}
	return outcome{result: result}, nil
}

type jwtIssueParams struct {
	TargetKey     string  `json:"target_key"`
	DurationHours float64 `json:"duration_hours"`

	// ExpiresAt only exists to be rejected: it was the legacy shape this
	// command took before duration_hours, and §11 requires the legacy form
	// be refused at the transport layer rather than silently ignored.
	ExpiresAt *int64 `json:"expires_at,omitempty"`
}

func (s *Services) jwtIssue(params json.RawMessage) (outcome, error) {
	var p jwtIssueParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	if p.ExpiresAt != nil {
		return outcome{}, errors.ClientFaultError("LEGACY_EXPIRES_AT_REJECTED", "expires_at is no longer accepted, use duration_hours")
	}
	token, err := convo.IssueJwt(s.JWTIssuer, p.TargetKey, p.DurationHours)
	if err != nil {
		return outcome{}, err
	}
	return outcome{result: struct {
		Token string `json:"token"`
	}{Token: token}}, nil
}

type jwtVerifyParams struct {
	PubkeyHex string `json:"pubkey_hex"`
	Token     string `json:"token"`
}

func (s *Services) jwtVerify(params json.RawMessage) (outcome, error) {
	var p jwtVerifyParams
	if err := decodeParams(params, &p); err != nil {
		return outcome{}, err
	}
	targetKey, err := convo.VerifyJwt(p.PubkeyHex, p.Token)
	if err != nil {
		return outcome{}, err
	}
	return outcome{result: struct {
		TargetKey string `json:"target_key"`
	}{TargetKey: targetKey}}, nil
}
