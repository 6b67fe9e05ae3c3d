package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript atomically releases the lock only if it still holds this
// handle's token, preventing a caller from releasing a lock acquired by
// someone else after its own lease expired.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisConfig configures the distributed lock's lease behavior.
type RedisConfig struct {
	TTL            time.Duration
	RetryInterval  time.Duration
	AcquireTimeout time.Duration
}

// DefaultRedisConfig returns a 30s lease with 100ms retry polling, a
// conservative default for a multi-replica deployment.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		TTL:            30 * time.Second,
		RetryInterval:  100 * time.Millisecond,
		AcquireTimeout: 5 * time.Second,
	}
}

// RedisLocker implements Locker with Redis SET NX / Lua-guarded DEL, letting
// multiple orchestrator replicas share one lock namespace.
type RedisLocker struct {
	client *redis.Client
	cfg    RedisConfig
	prefix string
	logger *slog.Logger
}

// NewRedisLocker builds a locker over an already-connected client.
func NewRedisLocker(client *redis.Client, cfg RedisConfig, prefix string, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, cfg: cfg, prefix: prefix, logger: logger}
}

type redisHandle struct {
	client *redis.Client
	key    string
	token  string
}

func (h *redisHandle) Release(ctx context.Context) error {
	releaseCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := h.client.Eval(releaseCtx, releaseScript, []string{h.key}, h.token).Result()
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", h.key, err)
	}
	if n, _ := result.(int64); n != 1 {
		return nil // already expired or stolen; nothing left to release
	}
	return nil
}

func (l *RedisLocker) namespacedKey(key string) string {
	return l.prefix + ":" + key
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Handle, error) {
	deadline := time.Now().Add(l.cfg.AcquireTimeout)
	for {
		h, ok, err := l.TryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return h, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock: acquire %s: timed out", key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.cfg.RetryInterval):
		}
	}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (Handle, bool, error) {
	token, err := randomToken()
	if err != nil {
		return nil, false, err
	}

	fullKey := l.namespacedKey(key)
	ok, err := l.client.SetNX(ctx, fullKey, token, l.cfg.TTL).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("lock: try-acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisHandle{client: l.client, key: fullKey, token: token}, true, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
