package robots

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a cached robots.txt response.
type Entry struct {
	StatusCode int
	Body       []byte
}

// Cache stores robots.txt responses per origin.
type Cache interface {
	Get(ctx context.Context, origin string) (*Entry, bool, error)
	Set(ctx context.Context, origin string, entry *Entry, ttl time.Duration) error
}

const redisKeyPrefix = "robots:"

// RedisCache shares robots.txt responses between worker processes.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
// Parameters:
//   - ctx: context for the connection check.
//   - addr: host:port of the Redis server.
//   - password: optional password.
//   - db: database number.
// Returns:
//   - *RedisCache: connected cache.
//   - error: non-nil if Redis cannot be reached.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisCacheFromClient(client), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the cached entry for origin.
func (c *RedisCache) Get(ctx context.Context, origin string) (*Entry, bool, error) {
	val, err := c.client.Get(ctx, redisKeyPrefix+origin).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get robots entry: %w", err)
	}
	entry, err := decodeEntry(val)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// Set stores entry for origin with ttl.
func (c *RedisCache) Set(ctx context.Context, origin string, entry *Entry, ttl time.Duration) error {
	if err := c.client.Set(ctx, redisKeyPrefix+origin, encodeEntry(entry), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set robots entry: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// encodeEntry stores the status code on the first line, the body after it.
func encodeEntry(e *Entry) string {
	return strconv.Itoa(e.StatusCode) + "\n" + string(e.Body)
}

func decodeEntry(s string) (*Entry, error) {
	status, body, _ := strings.Cut(s, "\n")
	code, err := strconv.Atoi(status)
	if err != nil {
		return nil, fmt.Errorf("corrupt robots entry: %w", err)
	}
	return &Entry{StatusCode: code, Body: []byte(body)}, nil
}

// MemoryCache is the in-process fallback when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	entry     *Entry
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get returns the cached entry for origin if it has not expired.
func (c *MemoryCache) Get(_ context.Context, origin string) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[origin]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, origin)
		return nil, false, nil
	}
	return e.entry, true, nil
}

// Set stores entry for origin with ttl.
func (c *MemoryCache) Set(_ context.Context, origin string, entry *Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[origin] = memoryEntry{entry: entry, expiresAt: c.now().Add(ttl)}
	return nil
}
