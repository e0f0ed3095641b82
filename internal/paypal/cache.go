package paypal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache shares access tokens between requests and, for the Redis
// implementation, between processes. A cache miss or failure only costs
// an extra token exchange.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, token string, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
}

type noCache struct{}

func (noCache) Get(context.Context, string) (string, bool)         { return "", false }
func (noCache) Put(context.Context, string, string, time.Duration) {}
func (noCache) Invalidate(context.Context, string)                 {}

type memoryEntry struct {
	token   string
	expires time.Time
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expires) {
		delete(m.entries, key)
		return "", false
	}
	return e.token, true
}

func (m *MemoryCache) Put(_ context.Context, key, token string, ttl time.Duration) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{token: token, expires: m.now().Add(ttl)}
	m.mu.Unlock()
}

func (m *MemoryCache) Invalidate(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

type RedisCache struct {
	rc     *redis.Client
	prefix string
}

func NewRedisCache(rc *redis.Client) *RedisCache {
	return &RedisCache{rc: rc, prefix: "paybridge:paypal:token:"}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	tok, err := r.rc.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("token cache read failed", "error", err)
		}
		return "", false
	}
	return tok, true
}

func (r *RedisCache) Put(ctx context.Context, key, token string, ttl time.Duration) {
	if err := r.rc.Set(ctx, r.prefix+key, token, ttl).Err(); err != nil {
		slog.Warn("token cache write failed", "error", err)
	}
}

func (r *RedisCache) Invalidate(ctx context.Context, key string) {
	if err := r.rc.Del(ctx, r.prefix+key).Err(); err != nil {
		slog.Warn("token cache delete failed", "error", err)
	}
}
