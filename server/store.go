package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Store sizing defaults shared by the state and session stores.
const (
	DefaultStoreTTL      = time.Hour
	DefaultStoreCapacity = 1000

	// secretBytes gives 160 bits of entropy for state values and bearer
	// credentials; hex encoding yields 40-character secrets.
	secretBytes = 20

	// prefixLen is the length of the map key carved off a secret. The prefix
	// is an indexing shortcut only: every prefix hit is followed by a full
	// constant-time comparison of the whole secret.
	prefixLen = 8
)

// sweepFunc deletes every record created before cutoff and returns the number
// of records left. Implementations run under their store's lock.
type sweepFunc func(cutoff time.Time) int

// maintain prunes a store after an insert. It first drops everything older
// than ttl, then keeps halving ttl and sweeping again while the store is
// still over capacity. ttl strictly decreases toward zero, so the loop
// terminates; under sustained overload only the most recent inserts survive.
func maintain(now time.Time, ttl time.Duration, capacity int, sweep sweepFunc) {
	size := sweep(now.Add(-ttl))
	for size > capacity && ttl > 0 {
		ttl /= 2
		size = sweep(now.Add(-ttl))
	}
}

// newSecret mints a random hex secret for state values and bearer credentials.
func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
