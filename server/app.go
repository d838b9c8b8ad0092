package server

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
)

// App bundles the relying-party core: provider registry, metadata resolver,
// token exchanger, and the two bounded in-memory stores.
type App struct {
	Config    Config
	Logger    *slog.Logger
	Resolver  *Resolver
	Exchanger *Exchanger
	States    *StateStore
	Sessions  *SessionStore
}

// NewApp wires together the application state from configuration.
func NewApp(cfg Config, logger *slog.Logger) *App {
	client := &http.Client{Timeout: cfg.ClientTimeout()}
	resolver := NewResolver(client, cfg.DiscoveryTTL(), cfg.Stores.Capacity)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Resolver:  resolver,
		Exchanger: NewExchanger(resolver, client, logger),
		States:    NewStateStore(cfg.StoreTTL(), cfg.Stores.Capacity),
		Sessions:  NewSessionStore(cfg.StoreTTL(), cfg.Stores.Capacity, logger),
	}
}

// BeginLogin starts the authorization-code flow for a tenant and returns the
// provider redirect URL carrying a fresh anti-replay state bound to the
// tenant and a nonce.
func (a *App) BeginLogin(ctx context.Context, tenant string) (string, error) {
	p, err := a.Config.LookupProvider(tenant)
	if err != nil {
		return "", err
	}
	doc, _, err := a.Resolver.Resolve(ctx, tenant, p)
	if err != nil {
		return "", err
	}
	state, err := a.States.Issue(tenant)
	if err != nil {
		return "", err
	}
	nonce, err := newSecret()
	if err != nil {
		return "", err
	}

	cfg := &oauth2.Config{
		ClientID:    p.ClientID,
		RedirectURL: p.RedirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: doc.AuthorizationEndpoint},
		Scopes:      []string{"openid", "profile", "email"},
	}
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce)), nil
}

// HandleCallback consumes the state from the provider redirect, exchanges the
// code, and returns the new session's bearer credential. The tenant comes
// from the consumed state record, never from the request. The state is gone
// after this call whether or not the exchange succeeds.
func (a *App) HandleCallback(ctx context.Context, state, code, errCode, errDesc string) (string, error) {
	tenant, err := a.States.Consume(state)
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", ErrUnauthenticated
	}
	p, err := a.Config.LookupProvider(tenant)
	if err != nil {
		return "", err
	}
	res, err := a.Exchanger.Exchange(ctx, tenant, p, code, "")
	if err != nil {
		return "", err
	}
	return a.Sessions.Create(tenant, res.RefreshToken, res.AccessClaims, res.IDClaims, errCode, errDesc)
}

// SessionView is the authenticated status payload. The refresh token itself
// never leaves the process; only its presence is reported.
type SessionView struct {
	Created          int64  `json:"created"`
	Tenant           string `json:"config"`
	RefreshToken     bool   `json:"refresh_token"`
	AccessClaims     Claims `json:"access_token"`
	IDClaims         Claims `json:"id_token"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Status authenticates a bearer credential, silently refreshing expired
// claims first, and returns the session view.
func (a *App) Status(ctx context.Context, bearer string) (SessionView, error) {
	sess, err := a.Sessions.Authenticate(bearer)
	if err != nil {
		return SessionView{}, err
	}
	if p, err := a.Config.LookupProvider(sess.Tenant); err == nil {
		sess = a.Sessions.RefreshIfNeeded(ctx, sess, p, a.Exchanger)
	}
	return SessionView{
		Created:          sess.CreatedAt.Unix(),
		Tenant:           sess.Tenant,
		RefreshToken:     sess.RefreshToken != "",
		AccessClaims:     sess.AccessClaims,
		IDClaims:         sess.IDClaims,
		Error:            sess.Error,
		ErrorDescription: sess.ErrorDescription,
	}, nil
}

// Logout drops the session for a bearer credential. The credential must
// authenticate first so an unrelated caller cannot probe the store.
func (a *App) Logout(bearer string) error {
	if _, err := a.Sessions.Authenticate(bearer); err != nil {
		return err
	}
	a.Sessions.Destroy(bearer)
	return nil
}
