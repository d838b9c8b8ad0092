package server

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated covers a bad, missing, or expired bearer credential as
// well as a callback state that does not match. Lookup misses and value
// mismatches are deliberately indistinguishable.
var ErrUnauthenticated = errors.New("not authenticated")

// ErrExchangeArgs signals a caller contract violation on the token exchange:
// exactly one of code or refresh token must be supplied.
var ErrExchangeArgs = errors.New("exactly one of code or refresh_token required")

// ConfigError reports a request naming an unknown tenant.
type ConfigError struct {
	Tenant string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("unknown provider config %q", e.Tenant)
}

// FetchError reports an unreachable or malformed discovery, JWKS, or token
// endpoint response. Fetches are never retried at this layer.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UpstreamTokenError reports a grant the provider's token endpoint rejected.
// Body carries the provider's error payload.
type UpstreamTokenError struct {
	Status int
	Body   []byte
}

func (e *UpstreamTokenError) Error() string {
	return fmt.Sprintf("token endpoint rejected grant: status %d: %s", e.Status, e.Body)
}

// VerificationError reports a token that named a known key but failed the
// signature, issuer, audience, or expiry checks. Callers treat the claims as
// absent and never surface the reason to the end user.
type VerificationError struct {
	Err error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("token verification failed: %v", e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }
