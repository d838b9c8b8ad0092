package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sync"
	"time"
)

// Session is one authenticated user's record. AccessClaims and IDClaims hold
// the last verified claim sets; Error and ErrorDescription record what the
// provider reported alongside the callback, if anything.
type Session struct {
	CreatedAt        time.Time
	Token            string
	Tenant           string
	RefreshToken     string
	AccessClaims     Claims
	IDClaims         Claims
	Error            string
	ErrorDescription string
}

// SessionStore holds sessions keyed by a prefix of their bearer credential.
type SessionStore struct {
	mu       sync.Mutex
	records  map[string]*Session
	ttl      time.Duration
	capacity int
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionStore constructs an empty store with the given eviction bounds.
func NewSessionStore(ttl time.Duration, capacity int, logger *slog.Logger) *SessionStore {
	return &SessionStore{
		records:  make(map[string]*Session),
		ttl:      ttl,
		capacity: capacity,
		logger:   logger,
		now:      time.Now,
	}
}

// Create mints a bearer credential, stores the session under its prefix, and
// returns the credential. Every insert triggers store maintenance.
func (s *SessionStore) Create(tenant, refreshToken string, access, id Claims, errCode, errDesc string) (string, error) {
	token, err := newSecret()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.records[token[:prefixLen]] = &Session{
		CreatedAt:        now,
		Token:            token,
		Tenant:           tenant,
		RefreshToken:     refreshToken,
		AccessClaims:     access,
		IDClaims:         id,
		Error:            errCode,
		ErrorDescription: errDesc,
	}
	maintain(now, s.ttl, s.capacity, s.sweep)
	return token, nil
}

// Authenticate resolves a presented bearer credential to a session snapshot.
// The prefix index only narrows the lookup; the full credential is compared
// in constant time, and any mismatch or absence reads the same to the caller.
func (s *SessionStore) Authenticate(presented string) (Session, error) {
	if len(presented) < prefixLen {
		return Session{}, ErrUnauthenticated
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[presented[:prefixLen]]
	if !ok || subtle.ConstantTimeCompare([]byte(rec.Token), []byte(presented)) != 1 {
		return Session{}, ErrUnauthenticated
	}
	return *rec, nil
}

// RefreshIfNeeded refreshes a session's claims when either verified set
// carries an expiry in the past. The grant runs without holding the store
// lock; on success the stored record is updated in place and the rotated
// refresh token, when one was returned, replaces the old one. Upstream
// failures leave the last-known-good claims untouched and are only logged.
func (s *SessionStore) RefreshIfNeeded(ctx context.Context, sess Session, p Provider, exchanger *Exchanger) Session {
	if sess.RefreshToken == "" {
		return sess
	}
	now := s.now().Unix()
	if !claimsExpired(sess.AccessClaims, now) && !claimsExpired(sess.IDClaims, now) {
		return sess
	}

	res, err := exchanger.Exchange(ctx, sess.Tenant, p, "", sess.RefreshToken)
	if err != nil {
		s.logger.Error("session refresh failed", "tenant", sess.Tenant, "error", err)
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sess.Token[:prefixLen]]
	if !ok || rec.Token != sess.Token {
		// Evicted or replaced while the grant was in flight.
		return sess
	}
	rec.AccessClaims = res.AccessClaims
	rec.IDClaims = res.IDClaims
	if res.RefreshToken != "" {
		rec.RefreshToken = res.RefreshToken
	}
	return *rec
}

// Destroy removes the session for a bearer credential. Absence is not an
// error.
func (s *SessionStore) Destroy(token string) {
	if len(token) < prefixLen {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[token[:prefixLen]]
	if ok && subtle.ConstantTimeCompare([]byte(rec.Token), []byte(token)) == 1 {
		delete(s.records, token[:prefixLen])
	}
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *SessionStore) sweep(cutoff time.Time) int {
	for k, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.records, k)
		}
	}
	return len(s.records)
}

// claimsExpired reports whether the claim set exists and carries a past exp.
func claimsExpired(c Claims, now int64) bool {
	if c == nil {
		return false
	}
	exp, ok := c.ExpiresAt()
	return ok && exp < now
}
