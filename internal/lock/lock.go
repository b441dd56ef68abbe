// Package lock implements the short-lived resolution lock that lets exactly
// one invocation resolve an elapsed poll. The lock is a key in the shared
// store written with set-if-absent and a short expiry; there is no unlock
// call. A crashed holder costs one expiry period, never a deadlock.
package lock

import (
	"context"
	"time"

	"github.com/pulse-overlay/backend/internal/store"
)

// Key is the shared store key holding the lock record.
const Key = "poll_end_lock"

// DefaultTTL is the lock expiry when none is configured.
const DefaultTTL = 10 * time.Second

// Record is the stored lock value. Only its presence matters; AcquiredAt is
// kept for operator inspection.
type Record struct {
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Lock acquires the resolution right via the shared store.
type Lock struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// New creates a resolution lock with the given expiry.
func New(st store.Store, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{store: st, ttl: ttl, now: time.Now}
}

// SetClock overrides the lock clock. Test hook.
func (l *Lock) SetClock(now func() time.Time) { l.now = now }

// TryAcquire makes a single non-blocking set-if-absent attempt. True means
// this invocation owns the resolution sequence; false means another one does
// and the caller must simply skip this cycle. It never waits or retries:
// retry timing belongs to the periodic tick.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	return l.store.SetNX(ctx, Key, Record{AcquiredAt: l.now()}, l.ttl)
}
