// Package nip05 resolves NIP-05 identifiers (name@domain) to a pubkey and
// relay hints via an out-of-band HTTPS fetch of the well-known document
// (§4.5.7, §9 "NIP-05 resolver"). Grounded on the fetch/parse shape of
// other_examples/.../vcavallo-nostr-hypermedia/nip05.go, narrowed from a
// verify-against-known-pubkey helper to a plain lookup.
package nip05

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Shugur-Network/portal/internal/errors"
)

// Result is the successful outcome of Nip05Lookup{identifier} (§4.5.7).
type Result struct {
	Pubkey string   `json:"pubkey"`
	Relays []string `json:"relays"`
}

// Resolver performs NIP-05 lookups over HTTPS.
type Resolver struct {
	client *http.Client
}

// New creates a Resolver with a bounded-redirect HTTP client.
func New(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

// Lookup fetches https://{domain}/.well-known/nostr.json?name={local} for
// identifier ("name@domain", or bare "domain" meaning "_@domain") and
// returns the pubkey and relay hints it names.
func (r *Resolver) Lookup(ctx context.Context, identifier string) (*Result, error) {
	name, domain, err := splitIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("https://%s/.well-known/nostr.json?name=%s", domain, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.New(errors.ErrorTypeProtocol, "NIP05_INVALID", "could not build nip05 request: "+err.Error())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.ErrorTypeProtocol, "NIP05_NOT_FOUND", "nip05 fetch failed: "+err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.ErrorTypeProtocol, "NIP05_NOT_FOUND", fmt.Sprintf("nip05 fetch returned status %d", resp.StatusCode))
	}

	var doc struct {
		Names  map[string]string   `json:"names"`
		Relays map[string][]string `json:"relays"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, errors.New(errors.ErrorTypeProtocol, "NIP05_INVALID", "malformed nip05 document: "+err.Error())
	}

	pubkey, ok := doc.Names[name]
	if !ok {
		return nil, errors.New(errors.ErrorTypeProtocol, "NIP05_NOT_FOUND", "name not present in nip05 document")
	}
	pubkey = strings.ToLower(pubkey)

	return &Result{
		Pubkey: pubkey,
		Relays: doc.Relays[pubkey],
	}, nil
}

func splitIdentifier(identifier string) (name, domain string, err error) {
	parts := strings.SplitN(identifier, "@", 2)
	if len(parts) == 1 {
		name, domain = "_", strings.ToLower(parts[0])
	} else {
		name, domain = strings.ToLower(parts[0]), strings.ToLower(parts[1])
	}
	if domain == "" || strings.ContainsAny(domain, "/\\") {
		return "", "", errors.New(errors.ErrorTypeProtocol, "NIP05_INVALID", "invalid nip05 domain")
	}
	return name, domain, nil
}
