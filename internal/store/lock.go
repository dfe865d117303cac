package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// LockPrefix namespaces every lock key this engine creates.
const LockPrefix = "lock:"

// ErrLockNotAcquired is returned when the lock is already held by someone else.
var ErrLockNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the lock only when the caller still owns it, so a
// holder that outlived its TTL cannot release a lock re-acquired by another
// process.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Lock is one held distributed lock. The token identifies this owner; only
// the owner's Release removes the key.
type Lock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// AcquireLock tries to take the named lock once via SET NX. It returns
// ErrLockNotAcquired when another owner holds it; callers wanting retries
// wrap this in a retrier.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := LockPrefix + name
	token := uuid.NewString()

	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "setnx %s", key)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	return &Lock{client: c, key: key, token: token, ttl: ttl}, nil
}

// Release removes the lock if this instance still owns it. Releasing an
// expired or stolen lock is not an error; it just does nothing.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Err(); err != nil {
		return errors.Wrapf(err, "release %s", l.key)
	}
	return nil
}

// Key returns the full lock key including prefix.
func (l *Lock) Key() string {
	return l.key
}
