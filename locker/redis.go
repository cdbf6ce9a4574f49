package locker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/stock"
)

const keyPrefix = "stock-ledger:medication:"

// Redis is a Locker backed by redislock. A held key expires after TTL, so a
// crashed holder cannot block a medication forever.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
	logger logrus.FieldLogger
}

// NewRedis connects to addr and checks it answers.
func NewRedis(ctx context.Context, addr string, ttl time.Duration, logger logrus.FieldLogger) (*Redis, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       0,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return NewRedisWithClient(rdb, ttl, logger), rdb, nil
}

func NewRedisWithClient(rdb redislock.RedisClient, ttl time.Duration, logger logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client: redislock.New(rdb),
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		logger: logger,
	}
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	locks := make([]*redislock.Lock, 0, len(keys))

	release := func() {
		// Release on a fresh context: the caller's may already be done.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(locks) - 1; i >= 0; i-- {
			if err := locks[i].Release(relCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				config.LogError(r.logger, "locker", "Lock", "Error releasing medication lock", locks[i].Key(), err)
			}
		}
	}

	for _, key := range keys {
		lock, err := r.client.Obtain(ctx, keyPrefix+key, r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(r.retry),
		})
		if errors.Is(err, redislock.ErrNotObtained) {
			release()
			config.LogError(r.logger, "locker", "Lock", "Could not obtain medication lock", key, err)
			return nil, stock.ErrLockNotObtained
		}
		if err != nil {
			release()
			config.LogError(r.logger, "locker", "Lock", "Error obtaining medication lock", key, err)
			return nil, &stock.StoreError{Op: "lock " + key, Err: err}
		}
		locks = append(locks, lock)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}
