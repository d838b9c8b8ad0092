package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, idp *fakeIdP) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := httptest.NewServer(newTestApp(t, idp).Routes())
	t.Cleanup(srv.Close)
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return srv, client
}

// beginLogin follows GET /login and returns the state the relying party put in
// the provider redirect.
func beginLogin(t *testing.T, srv *httptest.Server, client *http.Client) string {
	t.Helper()
	resp, err := client.Get(srv.URL + "/login?config=1")
	if err != nil {
		t.Fatalf("GET /login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	return loc.Query().Get("state")
}

func postWithBearer(t *testing.T, client *http.Client, rawURL, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, rawURL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", rawURL, err)
	}
	return resp
}

func TestLoginCallbackStatusLogoutFlow(t *testing.T) {
	idp := newFakeIdP(t)
	srv, client := newTestServer(t, idp)

	resp, err := client.Get(srv.URL + "/login?config=1")
	if err != nil {
		t.Fatalf("GET /login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if !strings.HasPrefix(loc.String(), idp.srv.URL+"/authorize") {
		t.Fatalf("redirect does not target the provider: %q", loc)
	}
	q := loc.Query()
	if q.Get("client_id") != "client-1" {
		t.Fatalf("unexpected client_id: %q", q.Get("client_id"))
	}
	if q.Get("response_type") != "code" {
		t.Fatalf("unexpected response_type: %q", q.Get("response_type"))
	}
	if !strings.Contains(q.Get("scope"), "openid") {
		t.Fatalf("scope missing openid: %q", q.Get("scope"))
	}
	state := q.Get("state")
	if len(state) != 2*secretBytes {
		t.Fatalf("unexpected state length: %d", len(state))
	}
	if q.Get("nonce") == "" {
		t.Fatalf("expected a nonce parameter")
	}

	resp, err = client.Get(srv.URL + "/cb?state=" + state + "&code=code-1")
	if err != nil {
		t.Fatalf("GET /cb: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("unexpected callback status: %d", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if !strings.HasPrefix(location, "/#") {
		t.Fatalf("bearer not returned in fragment: %q", location)
	}
	bearer := strings.TrimPrefix(location, "/#")
	if len(bearer) != 2*secretBytes {
		t.Fatalf("unexpected bearer length: %d", len(bearer))
	}

	resp = postWithBearer(t, client, srv.URL+"/status", bearer)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}
	var view SessionView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if view.Tenant != "1" {
		t.Fatalf("unexpected tenant: %q", view.Tenant)
	}
	if !view.RefreshToken {
		t.Fatalf("expected refresh token to be reported present")
	}
	if view.IDClaims["sub"] != "user-1" || view.AccessClaims["sub"] != "user-1" {
		t.Fatalf("unexpected claims: %+v", view)
	}

	resp = postWithBearer(t, client, srv.URL+"/logout", bearer)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected logout status: %d", resp.StatusCode)
	}

	resp = postWithBearer(t, client, srv.URL+"/status", bearer)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestCallbackStateMismatch(t *testing.T) {
	idp := newFakeIdP(t)
	srv, client := newTestServer(t, idp)

	state := beginLogin(t, srv, client)

	// Same prefix, different suffix: looked up, compared, rejected.
	forged := state[:prefixLen] + strings.Repeat("0", len(state)-prefixLen)
	resp, err := client.Get(srv.URL + "/cb?state=" + forged + "&code=code-1")
	if err != nil {
		t.Fatalf("GET /cb: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged state, got %d", resp.StatusCode)
	}

	// The lookup consumed the record, so the genuine state is burned too.
	resp, err = client.Get(srv.URL + "/cb?state=" + state + "&code=code-1")
	if err != nil {
		t.Fatalf("GET /cb: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for burned state, got %d", resp.StatusCode)
	}
}

func TestCallbackWithoutCode(t *testing.T) {
	idp := newFakeIdP(t)
	srv, client := newTestServer(t, idp)

	state := beginLogin(t, srv, client)
	resp, err := client.Get(srv.URL + "/cb?state=" + state)
	if err != nil {
		t.Fatalf("GET /cb: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a code, got %d", resp.StatusCode)
	}
}

func TestCallbackUpstreamRejection(t *testing.T) {
	idp := newFakeIdP(t)
	idp.rejectGrants = true
	srv, client := newTestServer(t, idp)

	state := beginLogin(t, srv, client)
	resp, err := client.Get(srv.URL + "/cb?state=" + state + "&code=code-1")
	if err != nil {
		t.Fatalf("GET /cb: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for rejected grant, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if !strings.Contains(body["detail"], "invalid_grant") {
		t.Fatalf("expected provider error detail, got %q", body["detail"])
	}
}

func TestLoginUnknownTenant(t *testing.T) {
	idp := newFakeIdP(t)
	srv, client := newTestServer(t, idp)

	resp, err := client.Get(srv.URL + "/login?config=9")
	if err != nil {
		t.Fatalf("GET /login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown tenant, got %d", resp.StatusCode)
	}
}

func TestStatusWithoutBearer(t *testing.T) {
	idp := newFakeIdP(t)
	srv, client := newTestServer(t, idp)

	resp := postWithBearer(t, client, srv.URL+"/status", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer, got %d", resp.StatusCode)
	}

	resp = postWithBearer(t, client, srv.URL+"/status", strings.Repeat("ff", secretBytes))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown bearer, got %d", resp.StatusCode)
	}
}
