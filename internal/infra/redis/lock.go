package redis

import (
	"context"
	"fmt"
	"time"

	"fitness-payments-bot/internal/domain"

	"github.com/google/uuid"
)

// CreditLocker serializes balance writes per backend user across processes.
// It satisfies usecase.CreditLocker.
type CreditLocker struct {
	cli     RedisClient
	ttl     time.Duration
	backoff time.Duration
}

func NewCreditLocker(c RedisClient, ttl time.Duration) *CreditLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CreditLocker{cli: c, ttl: ttl, backoff: 50 * time.Millisecond}
}

func creditLockKey(userID string) string { return fmt.Sprintf("lock:credit:%s", userID) }

// Lock polls until the per-user lock is held or ctx is done; the caller's
// deadline is the only bound. The returned func releases the lock only if
// this caller still owns it.
func (l *CreditLocker) Lock(ctx context.Context, userID string) (func(), error) {
	key := creditLockKey(userID)
	token := uuid.NewString()
	ticker := time.NewTicker(l.backoff)
	defer ticker.Stop()
	for {
		ok, err := l.cli.SetNX(ctx, key, token, l.ttl)
		if err == nil && ok {
			return func() {
				// release with a fresh context so a cancelled caller still unlocks
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_, _ = l.cli.DelIfEquals(rctx, key, token)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domain.ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
