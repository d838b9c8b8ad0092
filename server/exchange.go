package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
)

// ExchangeResult carries the outcome of a token grant. RefreshToken holds the
// token to store, rotated when the provider returned a new one. Either claim
// set may be nil: a provider can omit a token, and a token that fails
// verification is treated as absent.
type ExchangeResult struct {
	RefreshToken string
	AccessClaims Claims
	IDClaims     Claims
}

// Exchanger performs authorization_code and refresh_token grants against a
// provider's token endpoint and runs the returned tokens through claim
// verification.
type Exchanger struct {
	resolver *Resolver
	client   *http.Client
	logger   *slog.Logger
}

// NewExchanger constructs an Exchanger sharing the resolver's metadata cache.
func NewExchanger(resolver *Resolver, client *http.Client, logger *slog.Logger) *Exchanger {
	if client == nil {
		client = http.DefaultClient
	}
	return &Exchanger{resolver: resolver, client: client, logger: logger}
}

// Exchange runs one grant for the tenant's provider. Exactly one of code and
// refreshToken must be supplied; anything else is a caller bug, not a request
// to be reinterpreted.
func (e *Exchanger) Exchange(ctx context.Context, tenant string, p Provider, code, refreshToken string) (ExchangeResult, error) {
	if (code == "") == (refreshToken == "") {
		return ExchangeResult{}, ErrExchangeArgs
	}

	doc, keys, err := e.resolver.Resolve(ctx, tenant, p)
	if err != nil {
		return ExchangeResult{}, err
	}

	cfg := &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   doc.AuthorizationEndpoint,
			TokenURL:  doc.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	// The oauth2 transport picks its client up from the context, keeping the
	// configured timeout on grant requests.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)

	var tok *oauth2.Token
	if code != "" {
		tok, err = cfg.Exchange(ctx, code)
	} else {
		tok, err = cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	}
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			return ExchangeResult{}, &UpstreamTokenError{Status: retrieve.Response.StatusCode, Body: retrieve.Body}
		}
		return ExchangeResult{}, &FetchError{URL: doc.TokenEndpoint, Err: err}
	}

	res := ExchangeResult{RefreshToken: tok.RefreshToken}

	res.AccessClaims, err = VerifyClaims(tok.AccessToken, keys, p)
	if err != nil {
		e.logger.Warn("access token rejected", "tenant", tenant, "error", err)
	}

	rawID, _ := tok.Extra("id_token").(string)
	res.IDClaims, err = VerifyClaims(rawID, keys, p)
	if err != nil {
		e.logger.Warn("id token rejected", "tenant", tenant, "error", err)
	}

	return res, nil
}
