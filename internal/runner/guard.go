package runner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// ErrRunInProgress is returned when another run holds the guard.
var ErrRunInProgress = eris.New("etl run already in progress")

// Guard admits at most one run at a time. Acquire returns a release func
// or ErrRunInProgress without blocking.
type Guard interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalLock guards runs within one process.
type LocalLock struct {
	mu sync.Mutex
}

func NewLocalLock() *LocalLock { return &LocalLock{} }

func (l *LocalLock) Acquire(context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock guards runs across processes sharing one storage backend.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

const (
	DefaultLockKey = "cryptoetl:run-lock"
	DefaultLockTTL = 10 * time.Minute
)

func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// NewRedisLockFromURL parses a redis:// URL and verifies connectivity.
func NewRedisLockFromURL(ctx context.Context, rawURL string) (*RedisLock, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "redis lock: parse url")
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "redis lock: ping")
	}
	return NewRedisLock(client, "", 0), nil
}

func (l *RedisLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis lock: acquire")
	}
	if !ok {
		return nil, ErrRunInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
		})
	}, nil
}

func (l *RedisLock) Close() error { return l.client.Close() }
