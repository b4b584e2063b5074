// Package clientapi implements the client-facing transport (§4.6/§4.8): a
// bidirectional JSON command/success/error/notification framing over a
// WebSocket connection, gated by a single static auth token that must be
// the first command on every session. Connection lifecycle (ping/pong,
// backpressure, idempotent close) is grounded on the teacher's
// relay/internal/relay/connection.go WsConnection, adapted from Nostr
// REQ/EVENT/CLOSE framing to Portal's own command surface.
package clientapi

import (
	"encoding/json"

	"github.com/Shugur-Network/portal/internal/errors"
)

// FrameType discriminates the tagged union of messages a session
// exchanges with a client, in both directions.
type FrameType string

const (
	FrameCommand      FrameType = "command"
	FrameSuccess      FrameType = "success"
	FrameError        FrameType = "error"
	FrameNotification FrameType = "notification"
)

// ClientCommand is every inbound frame a client sends. ID is an opaque
// client-chosen string echoed back on the matching success/error frame,
// letting a client correlate requests with responses on the same
// connection without waiting for one before sending the next.
type ClientCommand struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ServerFrame is every outbound frame a session writes. Exactly one of
// Result/Error/Payload is populated, matching Type.
type ServerFrame struct {
	Type           FrameType        `json:"type"`
	ID             string           `json:"id,omitempty"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	Result         any              `json:"result,omitempty"`
	Error          *errors.AppError `json:"error,omitempty"`
	Payload        any              `json:"payload,omitempty"`
}

func successFrame(id, subscriptionID string, result any) ServerFrame {
	return ServerFrame{Type: FrameSuccess, ID: id, SubscriptionID: subscriptionID, Result: result}
}

func errorFrame(id string, err error) ServerFrame {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		appErr = errors.InternalError("unhandled error", err)
	}
	return ServerFrame{Type: FrameError, ID: id, Error: appErr}
}

func notificationFrame(subscriptionID string, payload any) ServerFrame {
	return ServerFrame{Type: FrameNotification, SubscriptionID: subscriptionID, Payload: payload}
}

// Command names the client command surface (§4.5), one per conversation
// kind plus the synchronous operations (§4.5.6 mint/burn, §4.5.7
// profile/nip05, §4.5.8 jwt).
const (
	CmdAuth                   = "auth"
	CmdKeyHandshakeStart      = "key_handshake.start"
	CmdAuthChallengeStart     = "auth_challenge.start"
	CmdSinglePaymentStart     = "single_payment.start"
	CmdRecurringPaymentStart  = "recurring_payment.start"
	CmdRecurringPaymentClose  = "recurring_payment.close"
	CmdListenClosedRecurring  = "recurring_payment.listen_closed"
	CmdInvoiceRequestStart    = "invoice.request"
	CmdInvoicePayStart        = "invoice.pay"
	CmdCashuRequestStart      = "cashu.request"
	CmdCashuSendDirectStart   = "cashu.send_direct"
	CmdCashuMint              = "cashu.mint"
	CmdCashuBurn              = "cashu.burn"
	CmdProfileFetch           = "profile.fetch"
	CmdNip05Lookup            = "nip05.lookup"
	CmdJwtIssue               = "jwt.issue"
	CmdJwtVerify              = "jwt.verify"
	CmdSubscriptionUnsubscribe = "subscription.unsubscribe"
)
