package server

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

const algES256 = "ES256"

// Claims is the verified claim set of a token. Claim sets vary by provider,
// so only iss, aud, and exp are ever inspected here.
type Claims map[string]any

// ExpiresAt returns the exp claim as a unix timestamp, or false when absent.
func (c Claims) ExpiresAt() (int64, bool) {
	switch v := c["exp"].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case int64:
		return v, true
	default:
		return 0, false
	}
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// VerifyClaims verifies a compact token against the provider's key set and
// returns its claims.
//
// A nil, nil result means no claims are available: empty token, undecodable
// header, an algorithm other than ES256, a kid absent from the key set, or
// non-elliptic-curve key material. These are not errors; providers
// legitimately omit tokens. A non-nil error means the token named a known key
// but failed the signature, issuer, audience, or expiry checks.
func VerifyClaims(raw string, keys jose.JSONWebKeySet, p Provider) (Claims, error) {
	if raw == "" {
		return nil, nil
	}

	head, ok := peekHeader(raw)
	if !ok || head.Alg != algES256 {
		return nil, nil
	}
	key := findKey(keys, head.Kid)
	if key == nil {
		return nil, nil
	}
	pub, ok := key.Key.(*ecdsa.PublicKey)
	if !ok {
		// RSA keys are unsupported; entries with other key material never match.
		return nil, nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{algES256}),
		jwt.WithIssuer(p.Issuer),
		jwt.WithAudience(p.ClientID),
		jwt.WithExpirationRequired(),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	}); err != nil {
		return nil, &VerificationError{Err: err}
	}
	return Claims(claims), nil
}

// peekHeader decodes the first token segment without trusting anything in it.
// Missing base64 padding is tolerated.
func peekHeader(raw string) (tokenHeader, bool) {
	seg, _, found := strings.Cut(raw, ".")
	if !found {
		return tokenHeader{}, false
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
	if err != nil {
		return tokenHeader{}, false
	}
	var head tokenHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return tokenHeader{}, false
	}
	return head, true
}

// findKey returns the key with the exact kid, or nil. An empty kid never
// matches.
func findKey(set jose.JSONWebKeySet, kid string) *jose.JSONWebKey {
	if kid == "" {
		return nil
	}
	for i := range set.Keys {
		if set.Keys[i].KeyID == kid {
			return &set.Keys[i]
		}
	}
	return nil
}
