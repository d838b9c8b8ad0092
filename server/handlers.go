package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	redirect, err := a.BeginLogin(r.Context(), r.URL.Query().Get("config"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bearer, err := a.HandleCallback(r.Context(),
		q.Get("state"), q.Get("code"), q.Get("error"), q.Get("error_description"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	// The bearer credential travels in the fragment so it never hits logs.
	http.Redirect(w, r, "/#"+bearer, http.StatusFound)
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	bearer, ok := bearerCredential(r)
	if !ok {
		a.writeError(w, ErrUnauthenticated)
		return
	}
	view, err := a.Status(r.Context(), bearer)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	bearer, ok := bearerCredential(r)
	if !ok {
		a.writeError(w, ErrUnauthenticated)
		return
	}
	if err := a.Logout(bearer); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func bearerCredential(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	cred := strings.TrimSpace(parts[1])
	return cred, cred != ""
}

// writeError maps core errors onto HTTP statuses. Authentication failures are
// a single generic 401 regardless of cause.
func (a *App) writeError(w http.ResponseWriter, err error) {
	var configErr *ConfigError
	var upstream *UpstreamTokenError
	var fetch *FetchError
	switch {
	case errors.Is(err, ErrUnauthenticated):
		writeJSONError(w, http.StatusUnauthorized, "not authenticated")
	case errors.As(err, &configErr):
		writeJSONError(w, http.StatusUnprocessableEntity, "config parameter missing or unknown")
	case errors.As(err, &upstream):
		a.Logger.Warn("upstream rejected grant", "status", upstream.Status)
		writeJSONError(w, http.StatusUnauthorized, string(upstream.Body))
	case errors.As(err, &fetch):
		a.Logger.Error("provider fetch failed", "error", err)
		writeJSONError(w, http.StatusBadGateway, "provider unavailable")
	default:
		a.Logger.Error("request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<title>OpenID Connect test client</title>
<script>
"use strict";
const fragment = window.location.hash.split("#")[1];
if (fragment) {
  window.location.hash = "";
  localStorage.setItem("bearer", fragment);
}
const bearer = localStorage.getItem("bearer");

const status = async () => {
  let data = {detail: "no bearer credential"};
  if (bearer) {
    const resp = await fetch("/status", {method: "POST", headers: {Authorization: "Bearer " + bearer}});
    data = await resp.json();
  }
  document.querySelector("#status").textContent = JSON.stringify(data, null, 2);
};

const logout = async () => {
  if (bearer) {
    await fetch("/logout", {method: "POST", headers: {Authorization: "Bearer " + bearer}});
  }
  localStorage.removeItem("bearer");
  await status();
};

window.onload = () => {
  document.querySelector("#logout").onclick = logout;
  document.querySelector("#recheck").onclick = status;
  status();
};
</script>
</head>
<body>
<h1>OpenID Connect test client</h1>
<p><a href="/login?config=1">Login with first tenant</a></p>
<p><a href="/login?config=2">Login with second tenant</a></p>
<p><button id="recheck">Re-check</button> <button id="logout">Logout</button></p>
<pre id="status"></pre>
</body>
</html>
`
