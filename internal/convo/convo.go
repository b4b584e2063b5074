// Package convo implements the Protocol State Machines (§4.5): one Go type
// per conversation kind, each satisfying runtime.Conversation directly —
// no inheritance, no tagged-variant wrapper, per the uniform-trait design
// note. Every kind owns its own small notification/result payload types;
// the router and runtime never need to know what's inside an envelope's
// body beyond its subkind.
package convo

import (
	"time"

	"github.com/google/uuid"
)

// NewCorrelationID allocates a fresh correlation_id for a client-initiated
// conversation (one that has no prior correlation_id to reuse because the
// server, not a peer, is opening it).
func NewCorrelationID() string {
	return uuid.NewString()
}

// deadline is embedded by the conversation kinds with a fixed deadline.
// KeyHandshake and ListenClosedRecurring do not embed it; each implements
// Deadline() itself.
type deadline struct {
	at time.Time
}

func (d deadline) Deadline() time.Time { return d.at }
