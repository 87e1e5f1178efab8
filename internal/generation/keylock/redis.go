package keylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

type RedisConfig struct {
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
	Poll   time.Duration `yaml:"poll"`
}

// Redis is a Locker shared across processes. Ownership is a random token stored with
// SET NX PX; only the holder of the token can extend or release it.
type Redis struct {
	rdb    goredis.UniversalClient
	log    *logger.Logger
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

func NewRedis(rdb goredis.UniversalClient, log *logger.Logger, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "curriculumgen:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 200 * time.Millisecond
	}
	return &Redis{
		rdb:    rdb,
		log:    log.With("service", "RedisKeyLock"),
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		poll:   cfg.Poll,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	name := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, name, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("acquire lock %s: %w (%v)", key, pkgerrors.ErrLocked, ctx.Err())
		case <-ticker.C:
		}
	}

	held, lost := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(name, token, lost, stop, done)

	var once sync.Once
	return held, func() {
		once.Do(func() {
			r.release(key, name, token, stop, done)
			lost(nil)
		})
	}, nil
}

func (r *Redis) release(key, name, token string, stop chan struct{}, done <-chan struct{}) {
	close(stop)
	<-done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, r.rdb, []string{name}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		r.log.Warn("lock release failed", "key", key, "error", err)
	}
}

// keepAlive extends the lease at a third of its TTL while the holder is alive. When the
// token is gone, or no extension succeeded for a whole TTL, the holder's context is
// cancelled with ErrLockLost.
func (r *Redis) keepAlive(name, token string, lost context.CancelCauseFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(r.ttl / 3)
	defer t.Stop()
	extended := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := extendScript.Run(ctx, r.rdb, []string{name}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.log.Warn("lock extend failed", "lock", name, "error", err)
				if time.Since(extended) >= r.ttl {
					lost(fmt.Errorf("%w: %s: lease expired: %v", ErrLockLost, name, err))
					return
				}
				continue
			}
			if n == 0 {
				r.log.Warn("lock lost before release", "lock", name)
				lost(fmt.Errorf("%w: %s", ErrLockLost, name))
				return
			}
			extended = time.Now()
		}
	}
}
