package metadata

import (
	"context"
	"time"
)

// LockPollInterval is how often a waiting Lock retries.
var LockPollInterval = 20 * time.Millisecond

// TryLockFunc makes one attempt to take the lock at now. It reports
// ok=false when the lock is held by someone else.
type TryLockFunc func(ctx context.Context, now time.Time) (lock Lock, ok bool, err error)

// AcquireLock retries try until it succeeds, ctx is cancelled or timeout
// elapses. A zero timeout makes a single attempt. Backends share it so that
// every Locker waits the same way.
func AcquireLock(ctx context.Context, timeout time.Duration, try TryLockFunc) (Lock, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(LockPollInterval)
	defer ticker.Stop()
	for {
		lock, ok, err := try(ctx, time.Now())
		if err != nil {
			return Lock{}, err
		}
		if ok {
			return lock, nil
		}
		if !time.Now().Before(deadline) {
			return Lock{}, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return Lock{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
