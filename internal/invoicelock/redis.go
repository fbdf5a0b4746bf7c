package invoicelock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/invoicepay/internal/config"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	minRetryInterval = 10 * time.Millisecond
	maxRetryInterval = 200 * time.Millisecond
)

// RedisLocker serializes invoice mutations across replicas with SET NX locks.
type RedisLocker struct {
	client redis.UniversalClient
	script *redis.Script
	cfg    *config.PaymentsConfigHolder
	log    *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, cfg *config.PaymentsConfigHolder, log *zap.Logger) *RedisLocker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		cfg:    cfg,
		log:    log.Named("invoicelock.redis"),
	}
}

// Lock retries until the lock is acquired or ctx ends. The TTL bounds how
// long a crashed holder can block the invoice.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if key == "" {
		return nil, ErrLockKeyEmpty
	}

	ttl := l.cfg.Get().LockTTL
	token := uuid.NewString()
	wait := minRetryInterval
	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		wait *= 2
		if wait > maxRetryInterval {
			wait = maxRetryInterval
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := l.script.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.log.Warn("failed to release invoice lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
