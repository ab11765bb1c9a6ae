package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLockNotConfigured = errors.New("lock_not_configured")
	ErrInvalidLease      = errors.New("invalid_lease")
)

// compare-and-delete so an expired holder cannot drop a successor's lease.
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out exclusive, expiring leases on Redis keys. Replicas use it
// to agree on which one runs a catalog refresh.
type Locker struct {
	client redis.UniversalClient
}

// NewLocker returns nil without a client so callers can fall back to a
// process-local gate.
func NewLocker(client redis.UniversalClient) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// Lease is one holder's claim on a key.
type Lease struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Acquire claims key for ttl. It returns a nil lease and nil error when
// another holder owns the key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockNotConfigured
	}
	if key == "" || ttl <= 0 {
		return nil, ErrInvalidLease
	}

	token := uuid.NewString()
	won, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, nil
	}
	return &Lease{client: l.client, key: key, token: token}, nil
}

func (l *Lease) Key() string {
	if l == nil {
		return ""
	}
	return l.key
}

// Release gives the key up if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return releaseLease.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
