package app

import (
	"context"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/Shugur-Network/portal/internal/envelope"
	"github.com/Shugur-Network/portal/internal/identity"
	"github.com/Shugur-Network/portal/internal/relaypool"
)

// relayPublisher implements registry.Publisher: sealing an envelope to its
// recipient with the server's own identity and handing the resulting
// event to the relay pool. No conversation in internal/convo ever touches
// envelope.Seal or relaypool.Pool directly; every one of them only ever
// reaches the outside world through the EffectSink it is spawned with
// (§4.4), and this is the concrete type that backs that sink's publish
// half once the pieces are wired together here.
type relayPublisher struct {
	id         *identity.Identity
	pool       *relaypool.Pool
	delegation *identity.DelegationProof
}

func newRelayPublisher(id *identity.Identity, pool *relaypool.Pool, delegation *identity.DelegationProof) *relayPublisher {
	return &relayPublisher{id: id, pool: pool, delegation: delegation}
}

func (p *relayPublisher) PublishEnvelope(recipient string, env envelope.Envelope) error {
	evt, err := p.seal(recipient, env)
	if err != nil {
		return err
	}
	return p.pool.Publish(context.Background(), evt)
}

func (p *relayPublisher) seal(recipient string, env envelope.Envelope) (*nostr.Event, error) {
	if p.delegation != nil {
		return envelope.SealDelegated(p.id, recipient, env, p.delegation)
	}
	return envelope.Seal(p.id, recipient, env)
}
