package nip05

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSplitIdentifier(t *testing.T) {
	cases := []struct {
		identifier  string
		wantName    string
		wantDomain  string
		expectError bool
	}{
		{"alice@example.com", "alice", "example.com", false},
		{"example.com", "_", "example.com", false},
		{"alice@", "", "", true},
		{"alice@evil.com/path", "", "", true},
	}

	for _, c := range cases {
		name, domain, err := splitIdentifier(c.identifier)
		if c.expectError {
			if err == nil {
				t.Errorf("%s: expected error, got none", c.identifier)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", c.identifier, err)
			continue
		}
		if name != c.wantName || domain != c.wantDomain {
			t.Errorf("%s: got name=%q domain=%q, want name=%q domain=%q", c.identifier, name, domain, c.wantName, c.wantDomain)
		}
	}
}

func TestNostrJSONFixtureDecodesNames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "name=alice") {
			t.Errorf("expected name=alice in query, got %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"names":  map[string]string{"alice": "deadbeef"},
			"relays": map[string][]string{"deadbeef": {"wss://relay.example.com"}},
		})
	}))
	defer server.Close()

	// Lookup always targets https://{domain}/... so this test exercises the
	// parsing path directly against a local fixture rather than driving the
	// resolver's HTTPS round trip end-to-end.
	resp, err := http.Get(server.URL + "/.well-known/nostr.json?name=alice")
	if err != nil {
		t.Fatalf("fixture request: %v", err)
	}
	defer resp.Body.Close()

	var doc struct {
		Names  map[string]string   `json:"names"`
		Relays map[string][]string `json:"relays"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Names["alice"] != "deadbeef" {
		t.Fatalf("expected pubkey deadbeef, got %s", doc.Names["alice"])
	}
}

func TestLookupRejectsInvalidIdentifier(t *testing.T) {
	r := New(0)
	if _, err := r.Lookup(context.Background(), "alice@"); err == nil {
		t.Fatal("expected an error for an invalid identifier")
	}
}
