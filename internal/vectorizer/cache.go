package vectorizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
)

// CachedEmbedder wraps an Embedder with a Redis-backed cache so the same
// text is never embedded twice across processes. Redis being down or slow
// degrades to pass-through: cache errors are logged, never surfaced.
type CachedEmbedder struct {
	inner Embedder
	pool  *redis.Pool
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with the cache. A nil pool disables
// caching entirely.
func NewCachedEmbedder(inner Embedder, pool *redis.Pool, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &CachedEmbedder{inner: inner, pool: pool, ttl: ttl}
}

// NewRedisPool builds a redis pool for the embedding cache.
func NewRedisPool(addr string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 240 * time.Second,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr)
		},
	}
}

// Embed consults the cache first, falling through to the wrapped embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.get(ctx, key); ok {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.put(key, vec)
	return vec, nil
}

// Dimension returns the wrapped embedder's dimensionality.
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// Model returns the wrapped embedder's model name.
func (c *CachedEmbedder) Model() string { return c.inner.Model() }

// Stats returns cache hit/miss counts since startup.
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// cacheKey is model-scoped so changing models never serves stale vectors.
func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("caselink:embed:%s:%s", c.inner.Model(), hex.EncodeToString(sum[:]))
}

func (c *CachedEmbedder) get(ctx context.Context, key string) ([]float32, bool) {
	if c.pool == nil {
		return nil, false
	}

	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Embedding cache unavailable")
		return nil, false
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", key))
	if err != nil {
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil || len(vec) != c.inner.Dimension() {
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbedder) put(key string, vec []float32) {
	if c.pool == nil {
		return
	}

	conn := c.pool.Get()
	defer conn.Close()

	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if _, err := conn.Do("SET", key, data, "EX", int(c.ttl.Seconds())); err != nil {
		log.Debug().Err(err).Msg("Embedding cache write failed")
	}
}
