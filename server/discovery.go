package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v3"
)

// DiscoveryDocument is the subset of the published OIDC metadata the relying
// party needs.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

type discoveryEntry struct {
	createdAt time.Time
	doc       DiscoveryDocument
	keys      jose.JSONWebKeySet
}

// Resolver fetches provider discovery metadata and signing keys.
//
// Results are cached per tenant with a bounded TTL. Earlier drafts of this
// service refetched both documents on every login, callback, and refresh; the
// cache replaces that behaviour.
type Resolver struct {
	client   *http.Client
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]discoveryEntry
	now     func() time.Time
}

// NewResolver constructs a resolver with a bounded metadata cache.
func NewResolver(client *http.Client, ttl time.Duration, capacity int) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{
		client:   client,
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]discoveryEntry),
		now:      time.Now,
	}
}

// Resolve returns the discovery document and key set for a tenant's provider,
// fetching both sequentially when the cache has no live entry. No retries are
// attempted; either fetch failing surfaces as a FetchError.
func (r *Resolver) Resolve(ctx context.Context, tenant string, p Provider) (DiscoveryDocument, jose.JSONWebKeySet, error) {
	r.mu.Lock()
	entry, ok := r.entries[tenant]
	r.mu.Unlock()
	if ok && r.now().Sub(entry.createdAt) < r.ttl {
		return entry.doc, entry.keys, nil
	}

	wellKnown := strings.TrimSuffix(p.Issuer, "/") + "/.well-known/openid-configuration"
	var doc DiscoveryDocument
	if err := r.getJSON(ctx, wellKnown, &doc); err != nil {
		return DiscoveryDocument{}, jose.JSONWebKeySet{}, err
	}

	var keys jose.JSONWebKeySet
	if err := r.getJSON(ctx, doc.JWKSURI, &keys); err != nil {
		return DiscoveryDocument{}, jose.JSONWebKeySet{}, err
	}

	r.mu.Lock()
	now := r.now()
	r.entries[tenant] = discoveryEntry{createdAt: now, doc: doc, keys: keys}
	maintain(now, r.ttl, r.capacity, r.sweep)
	r.mu.Unlock()

	return doc, keys, nil
}

func (r *Resolver) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &FetchError{URL: url, Err: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{URL: url, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{URL: url, Err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

func (r *Resolver) sweep(cutoff time.Time) int {
	for k, e := range r.entries {
		if e.createdAt.Before(cutoff) {
			delete(r.entries, k)
		}
	}
	return len(r.entries)
}
