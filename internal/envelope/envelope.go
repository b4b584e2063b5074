// Package envelope implements the Keypair & Envelope Layer (§4.2): event
// signing/verification, NIP-44 authenticated encryption of payload content,
// and the typed envelope carried inside it.
package envelope

import (
	"encoding/json"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/identity"
)

// Kind is the single Nostr event kind Portal uses for every envelope it
// publishes. It sits in the ephemeral range (20000-29999 per NIP-16) since
// no envelope needs to be retained by a relay past delivery.
const Kind = 24199

// Subkind enumerates the protocol messages carried inside an envelope's
// body (§4.5). Unknown values arriving over the wire classify as
// SubkindUnknown rather than failing classification outright.
type Subkind string

const (
	SubkindUnknown               Subkind = "unknown"
	SubkindKeyHandshakeResponse  Subkind = "key_handshake_response"
	SubkindAuthChallenge         Subkind = "auth_challenge"
	SubkindAuthResponse          Subkind = "auth_response"
	SubkindSinglePaymentRequest  Subkind = "single_payment_request"
	SubkindSinglePaymentResponse Subkind = "single_payment_response"
	SubkindRecurringPaymentReq   Subkind = "recurring_payment_request"
	SubkindRecurringPaymentResp  Subkind = "recurring_payment_response"
	SubkindRecurringPaymentClose Subkind = "recurring_payment_close"
	SubkindRecurringPaymentAck   Subkind = "recurring_payment_close_ack"
	SubkindClosedRecurring       Subkind = "closed_recurring"
	SubkindInvoiceRequest        Subkind = "invoice_request"
	SubkindInvoiceRequestResp    Subkind = "invoice_request_response"
	SubkindInvoicePay            Subkind = "invoice_pay"
	SubkindInvoicePayResponse    Subkind = "invoice_pay_response"
	SubkindCashuRequest          Subkind = "cashu_request"
	SubkindCashuDirect           Subkind = "cashu_direct"
	SubkindCashuDirectAck        Subkind = "cashu_direct_ack"
	SubkindCashuResponse         Subkind = "cashu_response"
)

// Envelope is the typed payload carried inside an event's encrypted
// content, per §3 Data Model. Body carries the subkind-specific fields as
// raw JSON, decoded by the conversation that owns Subkind.
type Envelope struct {
	Subkind       Subkind         `json:"subkind"`
	CorrelationID string          `json:"correlation_id"`
	ReplyTo       string          `json:"reply_to,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
}

// Expired reports whether the envelope carries an expiry that has passed
// as of now.
func (e *Envelope) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Inbound is an envelope paired with the routing metadata the router (§4.3)
// attaches on receipt: the resolved author (main key, after delegation
// verification), the local receive time, and whether created_at fell
// outside the accepted clock-skew window.
type Inbound struct {
	Envelope
	Author      string
	RawEvent    *nostr.Event
	ReceivedAt  time.Time
	SuspectTime bool
}

// Seal builds, encrypts, and signs one event addressed to recipientPubkey.
// Conversations do not call it themselves: they hand envelopes to their
// EffectSink, and the app's relay publisher seals them through Seal or
// SealDelegated. The NWC wallet backend builds its own events.
func Seal(id *identity.Identity, recipientPubkey string, env Envelope) (*nostr.Event, error) {
	plaintext, err := json.Marshal(env)
	if err != nil {
		return nil, errors.CryptoError("failed to marshal envelope", err)
	}

	ciphertext, err := encrypt(id.PrivateKeyHex, recipientPubkey, string(plaintext))
	if err != nil {
		return nil, err
	}

	evt := &nostr.Event{
		Kind:      Kind,
		Content:   ciphertext,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", recipientPubkey}},
	}

	if err := id.Sign(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// SealDelegated is Seal but additionally attaches a delegation tag proving
// id's key acts as a subkey of delegation.MasterPubkey, per §4.2's signing
// algorithm. A nil delegation makes it identical to Seal.
func SealDelegated(id *identity.Identity, recipientPubkey string, env Envelope, delegation *identity.DelegationProof) (*nostr.Event, error) {
	evt, err := Seal(id, recipientPubkey, env)
	if err != nil {
		return nil, err
	}
	if delegation != nil {
		evt.Tags = append(evt.Tags, nostr.Tag{
			"delegation", delegation.MasterPubkey, delegation.Conditions, delegation.Sig,
		})
		if err := id.Sign(evt); err != nil {
			return nil, err
		}
	}
	return evt, nil
}

// Classify verifies evt's signature, resolves its true author (following a
// delegation tag if present), decrypts its content with id's key, and
// parses the typed envelope. It returns nil, nil for anything that fails
// validation — per §4.2, classify never errors, it just declines to
// deliver the event to the router.
func Classify(id *identity.Identity, evt *nostr.Event, clockSkewWindow time.Duration) (*Inbound, error) {
	if err := identity.VerifyEventSignature(evt); err != nil {
		return nil, nil
	}

	author := evt.PubKey
	if delegation := identity.ExtractDelegationTag(evt); delegation != nil {
		if err := identity.VerifyDelegation(evt, delegation); err != nil {
			return nil, nil
		}
		author = delegation.MasterPubkey
	}

	plaintext, err := decrypt(id.PrivateKeyHex, evt.PubKey, evt.Content)
	if err != nil {
		return nil, nil
	}

	var env Envelope
	if err := json.Unmarshal([]byte(plaintext), &env); err != nil {
		return nil, nil
	}
	if env.Subkind == "" {
		env.Subkind = SubkindUnknown
	}

	now := time.Now()
	eventTime := time.Unix(int64(evt.CreatedAt), 0)
	suspect := eventTime.Before(now.Add(-clockSkewWindow)) || eventTime.After(now.Add(clockSkewWindow))

	return &Inbound{
		Envelope:    env,
		Author:      author,
		RawEvent:    evt,
		ReceivedAt:  now,
		SuspectTime: suspect,
	}, nil
}
