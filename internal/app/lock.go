package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/allotter/internal/apperrors"
)

// deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock is the allotment critical section. Inside one process a mutex
// does the job; with Redis configured a SET NX key extends it across
// instances. The key expires after ttl so a crashed holder cannot wedge runs.
type RunLock struct {
	mu    sync.Mutex
	redis *redis.Client
	key   string
	ttl   time.Duration
}

func NewRunLock(config *Config) (*RunLock, error) {
	l := &RunLock{key: config.Redis.LockKey, ttl: config.LockTTL()}
	if config.Redis.URL == "" {
		return l, nil
	}

	opt, err := redis.ParseURL(config.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	l.redis = client

	return l, nil
}

func NewLocalRunLock() *RunLock {
	return &RunLock{}
}

// TryAcquire takes the lock for a run, failing fast with
// apperrors.ErrRunInProgress when anyone else holds it.
func (l *RunLock) TryAcquire(ctx context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, apperrors.ErrRunInProgress
	}
	return l.claim(ctx)
}

// Hold waits for a local run to finish, then claims the same key a run
// would. While a publication toggle holds it no instance can start a run,
// and a run already going on another instance makes Hold fail with
// apperrors.ErrRunInProgress.
func (l *RunLock) Hold(ctx context.Context) (func(), error) {
	l.mu.Lock()
	return l.claim(ctx)
}

// claim is called with mu held and releases it on failure.
func (l *RunLock) claim(ctx context.Context) (func(), error) {
	if l.redis == nil {
		return l.mu.Unlock, nil
	}

	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		l.mu.Unlock()
		return nil, apperrors.ErrRunInProgress
	}

	return func() {
		if err := releaseScript.Run(context.Background(), l.redis, []string{l.key}, token).Err(); err != nil {
			logger.Error.Printf("Failed to release run lock %s: %v", l.key, err)
		}
		l.mu.Unlock()
	}, nil
}

func (l *RunLock) Close() error {
	if l.redis != nil {
		return l.redis.Close()
	}
	return nil
}
