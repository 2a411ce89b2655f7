// Package locks serializes runs that target the same identity. Two engine
// instances executing a Mover and a Leaver for the same subject at once
// would interleave provider writes; a RunLocker makes the second run wait
// its turn (or fail fast and let the caller retry).
package locks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrLockHeld is returned by Acquire when another holder has the lock.
var ErrLockHeld = errors.New("run lock already held")

// Unlock releases a held lock. It is safe to call after the TTL has expired:
// a lock that has passed to another holder is left untouched.
type Unlock func(ctx context.Context) error

// RunLocker is a distributed mutual-exclusion primitive keyed by identity.
// Implementations must be safe for concurrent use.
type RunLocker interface {
	// Acquire takes the lock for key with the given TTL, or fails fast with
	// ErrLockHeld when another holder has it. The returned Unlock must be
	// called to release the lock before the TTL does it for you.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// RunKey canonicalizes identity keys into a lock key: sorted key=value pairs
// joined with "&", so the same subject always maps to the same lock no
// matter which workflow or request shape addresses it.
func RunKey(identityKeys map[string]interface{}) string {
	names := make([]string, 0, len(identityKeys))
	for k := range identityKeys {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", k, identityKeys[k]))
	}
	return strings.Join(parts, "&")
}
