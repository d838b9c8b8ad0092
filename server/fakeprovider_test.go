package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

// fakeIdP is an httptest-backed OIDC provider serving discovery metadata, an
// ES256 JWKS, and a token endpoint for the grant types the relying party
// uses.
type fakeIdP struct {
	t   *testing.T
	key *ecdsa.PrivateKey
	kid string
	srv *httptest.Server

	mu            sync.Mutex
	wellKnownHits int
	lastGrant     url.Values
	accessKid     string
	tokenTTL      time.Duration
	refreshToken  string
	rejectGrants  bool
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &fakeIdP{
		t:            t,
		key:          key,
		kid:          "test-key",
		accessKid:    "test-key",
		tokenTTL:     time.Hour,
		refreshToken: "refresh-1",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", f.handleWellKnown)
	mux.HandleFunc("/keys", f.handleKeys)
	mux.HandleFunc("/token", f.handleToken)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIdP) provider() Provider {
	return Provider{
		Issuer:       f.srv.URL,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURI:  "http://rp.test/cb",
	}
}

func (f *fakeIdP) handleWellKnown(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.wellKnownHits++
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, DiscoveryDocument{
		Issuer:                f.srv.URL,
		AuthorizationEndpoint: f.srv.URL + "/authorize",
		TokenEndpoint:         f.srv.URL + "/token",
		JWKSURI:               f.srv.URL + "/keys",
	})
}

func (f *fakeIdP) handleKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &f.key.PublicKey, KeyID: f.kid, Algorithm: algES256, Use: "sig"},
	}})
}

func (f *fakeIdP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.lastGrant = r.PostForm
	reject := f.rejectGrants
	accessKid := f.accessKid
	ttl := f.tokenTTL
	refresh := f.refreshToken
	f.mu.Unlock()

	if reject {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": f.srv.URL,
		"aud": "client-1",
		"sub": "user-1",
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
	}
	resp := map[string]any{
		"access_token": f.signToken(accessKid, claims),
		"id_token":     f.signToken(f.kid, claims),
		"token_type":   "Bearer",
		"expires_in":   int(ttl.Seconds()),
	}
	if refresh != "" {
		resp["refresh_token"] = refresh
	}
	writeJSON(w, http.StatusOK, resp)
}

// signToken mints an ES256 token carrying the given header kid. The signing
// key is always the provider's real key, so an unknown kid exercises the
// verifier's key lookup rather than the signature check.
func (f *fakeIdP) signToken(kid string, claims jwt.MapClaims) string {
	f.t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(f.key)
	if err != nil {
		f.t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (f *fakeIdP) discoveryHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wellKnownHits
}

func (f *fakeIdP) lastGrantForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastGrant
}

func newTestApp(t *testing.T, idp *fakeIdP) *App {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Providers["1"] = idp.provider()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewApp(cfg, logger)
}
