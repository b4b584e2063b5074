package convo

import (
	"context"
	"encoding/json"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/Shugur-Network/portal/internal/errors"
	"github.com/Shugur-Network/portal/internal/nip05"
	"github.com/Shugur-Network/portal/internal/relaypool"
)

const defaultProfileFetchWindow = 3 * time.Second

// profileMetadataKind is the standard Nostr kind-0 metadata event, queried
// directly rather than routed through the envelope protocol — a profile
// is plaintext and has no correlation_id of its own (§4.5.7).
const profileMetadataKind = 0

// ProfileMetadata is ProfileFetch's successful result: the raw kind-0
// event content (name/about/picture/etc, whatever the peer published) and
// when it was created.
type ProfileMetadata struct {
	Pubkey    string          `json:"pubkey"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProfileFetch queries every connected relay for mainKey's most recent
// kind-0 event, collecting for window (default 3s) before returning. It
// returns (nil, nil) if nothing arrived in time — absence, not an error
// (§4.5.7: "none if not found").
func ProfileFetch(ctx context.Context, pool *relaypool.Pool, mainKey string, window time.Duration) (*ProfileMetadata, error) {
	if window <= 0 {
		window = defaultProfileFetchWindow
	}

	evt := pool.QueryRecent(ctx, nostr.Filter{
		Kinds:   []int{profileMetadataKind},
		Authors: []string{mainKey},
	}, window)
	if evt == nil {
		return nil, nil
	}

	return &ProfileMetadata{
		Pubkey:    evt.PubKey,
		Content:   json.RawMessage(evt.Content),
		CreatedAt: time.Unix(int64(evt.CreatedAt), 0),
	}, nil
}

// Nip05Lookup performs the out-of-band HTTPS NIP-05 resolution (§4.5.7),
// a thin pass-through to internal/nip05 kept here so the command surface
// names both profile operations the way the protocol description does.
func Nip05Lookup(ctx context.Context, resolver *nip05.Resolver, identifier string) (*nip05.Result, error) {
	if resolver == nil {
		return nil, errors.New(errors.ErrorTypeClientFault, "NO_NIP05_RESOLVER", "no nip05 resolver configured")
	}
	return resolver.Lookup(ctx, identifier)
}
