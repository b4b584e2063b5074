package errors

import (
	"fmt"
)

// Constructors for Portal's error taxonomy (§7). Each maps a conversation-
// runtime failure mode onto an AppError with the right ErrorType/Severity
// so the subscription registry and metrics layer can classify it uniformly.

// TransportError wraps a relay disconnect, publish timeout, or framing
// error. Recovered locally by the relay pool via backoff; never fatal.
func TransportError(relayURL string, cause error) *AppError {
	return Wrap(cause, ErrorTypeNetwork, "TRANSPORT_ERROR", fmt.Sprintf("relay transport failure: %s", relayURL)).
		WithSeverity(SeverityMedium).
		WithDetails(relayURL).
		WithUserMessage("A relay connection is temporarily unavailable.")
}

// PublishTimeoutError reports that no relay acknowledged a publish within
// the bounded wait (§4.1).
func PublishTimeoutError(eventID string) *AppError {
	return New(ErrorTypeTimeout, "PUBLISH_TIMEOUT", fmt.Sprintf("publish of event %s timed out", eventID)).
		WithSeverity(SeverityMedium).
		WithUserMessage("The event could not be confirmed by any relay in time.")
}

// NoRelaysAvailableError reports that the pool currently has zero
// connected relays to publish to.
func NoRelaysAvailableError() *AppError {
	return New(ErrorTypeNetwork, "NO_RELAYS_AVAILABLE", "no relays currently connected").
		WithSeverity(SeverityHigh).
		WithUserMessage("No relay connections are currently available.")
}

// CryptoError covers signature verification failure, decryption failure,
// or an invalid delegation proof. Always a hard drop of the offending
// event; never surfaced to a conversation.
func CryptoError(reason string, cause error) *AppError {
	return Wrap(cause, ErrorTypeCrypto, "CRYPTO_ERROR", fmt.Sprintf("cryptographic validation failed: %s", reason)).
		WithSeverity(SeverityLow).
		WithUserMessage("The event failed cryptographic validation and was dropped.")
}

// ProtocolError covers a wrong subkind for the current state, a stale
// correlation id, or a replayed envelope. The conversation continues
// waiting unless its deadline fires.
func ProtocolError(conversationID, reason string) *AppError {
	return New(ErrorTypeProtocol, "PROTOCOL_ERROR", fmt.Sprintf("protocol violation: %s", reason)).
		WithSeverity(SeverityLow).
		WithDetails(fmt.Sprintf("conversation_id: %s", conversationID)).
		WithUserMessage("An unexpected message was received for this conversation.")
}

// UserDecisionError wraps an explicit rejection/decline from a
// counterparty, surfaced to the client as a terminal error carrying the
// peer's own reason string.
func UserDecisionError(reason string) *AppError {
	return New(ErrorTypeUserDecision, "USER_DECLINED", reason).
		WithSeverity(SeverityLow).
		WithUserMessage(reason)
}

// ConversationTimeoutError reports that a conversation's deadline was
// reached without resolution (§4.4, §7).
func ConversationTimeoutError(conversationID string) *AppError {
	return New(ErrorTypeTimeout, "CONVERSATION_TIMED_OUT", fmt.Sprintf("conversation %s timed out", conversationID)).
		WithSeverity(SeverityMedium).
		WithUserMessage("The operation timed out waiting for a response.")
}

// BackendFailureError wraps a wallet or mint adapter call failure,
// sanitizing the underlying cause before it reaches the client.
func BackendFailureError(backend, operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeBackendFailure, "BACKEND_FAILURE", fmt.Sprintf("%s %s failed", backend, operation)).
		WithSeverity(SeverityHigh).
		WithUserMessage(fmt.Sprintf("The %s backend could not complete the request.", backend))
}

// ClientFaultError covers a malformed command, an unauthenticated
// command, or a reference to a nonexistent subscription or conversation.
// No conversation is created; the error is surfaced immediately on the
// command id.
func ClientFaultError(code, reason string) *AppError {
	return New(ErrorTypeClientFault, code, reason).
		WithSeverity(SeverityLow).
		WithUserMessage(reason)
}

// CapacityError covers the conversation cap or subscription cap being
// reached. No conversation is created.
func CapacityError(resource string, current, max int) *AppError {
	return New(ErrorTypeCapacity, "CAPACITY_EXCEEDED", fmt.Sprintf("%s capacity exceeded: %d/%d", resource, current, max)).
		WithSeverity(SeverityMedium).
		WithUserMessage("The server has reached its capacity for this resource.")
}

// DelegationProofError is a CryptoError specialization used when a subkey
// claims delegation from a main key but the proof does not verify.
func DelegationProofError(subkey, mainKey string) *AppError {
	return CryptoError(fmt.Sprintf("delegation proof for subkey %s does not verify against main key %s", subkey, mainKey), nil)
}
