package service

import (
	"container/list"
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"h2all/internal/config"
	"h2all/internal/metrics"
)

// Cache stores serialized campaign summaries for the landing page. Redis is
// shared between instances; the local LRU keeps serving when it is down.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Healthy reports whether the shared redis tier is in use.
	Healthy() bool
	Close() error
}

var errEmptyCacheKey = errors.New("cache key must not be empty")

const defaultCacheEntries = 1024

type tieredCache struct {
	redis *redis.Client
	local *lruCache
	// slow is the latency above which a redis call is logged.
	slow time.Duration
}

// NewCache builds the campaign cache. A redis that cannot be reached at
// startup is logged and the cache runs local-only.
func NewCache(cfg *config.Config) Cache {
	c := &tieredCache{
		local: newLRUCache(cfg.CacheMaxEntries),
		slow:  cfg.CachePerfWarnThreshold,
	}
	if !cfg.RedisEnabled {
		return c
	}
	if cfg.RedisAddr == "" {
		zap.L().Warn("REDIS_ENABLED set without REDIS_ADDR, campaign cache is local only")
		return c
	}

	opts := &redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.RedisDialTimeout,
		ReadTimeout:  cfg.RedisReadTimeout,
		WriteTimeout: cfg.RedisWriteTimeout,
	}
	if cfg.RedisUseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	dial := opts.DialTimeout
	if dial <= 0 {
		dial = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dial)
	defer cancel()

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		zap.L().Warn("redis unreachable, campaign cache is local only", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = client.Close()
		return c
	}
	zap.L().Info("campaign cache backed by redis", zap.String("addr", cfg.RedisAddr))
	c.redis = client
	return c
}

// NewMemoryCache returns a process-local cache with no redis tier.
func NewMemoryCache(maxEntries int) Cache {
	return &tieredCache{local: newLRUCache(maxEntries)}
}

func (c *tieredCache) Healthy() bool {
	return c != nil && c.redis != nil
}

func (c *tieredCache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

// observe records a redis call and logs it when it failed or was slow.
func (c *tieredCache) observe(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.RecordCacheOp("redis", op, err)
	switch {
	case err != nil:
		zap.L().Warn("campaign cache redis call failed", zap.String("op", op), zap.Duration("took", elapsed), zap.Error(err))
	case c.slow > 0 && elapsed >= c.slow:
		zap.L().Info("campaign cache redis call slow", zap.String("op", op), zap.Duration("took", elapsed))
	}
}

// Get reads redis first and copies hits into the local tier with the
// remaining redis TTL. Redis errors fall through to the local tier and are
// not returned.
func (c *tieredCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, errEmptyCacheKey
	}
	if c.redis != nil {
		start := time.Now()
		var get *redis.StringCmd
		var pttl *redis.DurationCmd
		_, err := c.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
			get = p.Get(ctx, key)
			pttl = p.PTTL(ctx, key)
			return nil
		})
		switch {
		case err == nil:
			c.observe("get", start, nil)
			val, _ := get.Bytes()
			if ttl := pttl.Val(); ttl > 0 {
				c.local.set(key, val, ttl)
			}
			return val, true, nil
		case errors.Is(err, redis.Nil):
			c.observe("get", start, nil)
		default:
			c.observe("get", start, err)
		}
	}

	val, ok := c.local.get(key)
	metrics.RecordCacheLookup("local", ok)
	return val, ok, nil
}

// Set writes both tiers. The local write always happens; a redis failure is
// returned so callers can log it.
func (c *tieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errEmptyCacheKey
	}
	if ttl <= 0 {
		return nil
	}
	c.local.set(key, value, ttl)
	if c.redis == nil {
		return nil
	}
	start := time.Now()
	err := c.redis.Set(ctx, key, value, ttl).Err()
	c.observe("set", start, err)
	return err
}

func (c *tieredCache) Delete(ctx context.Context, keys ...string) error {
	live := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			live = append(live, k)
			c.local.remove(k)
		}
	}
	if len(live) == 0 || c.redis == nil {
		return nil
	}
	start := time.Now()
	err := c.redis.Del(ctx, live...).Err()
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	c.observe("del", start, err)
	return err
}

// lruCache is a size-bounded map with per-entry expiry. Expired entries are
// dropped lazily on read and from the cold end on insert.
type lruCache struct {
	mu    sync.Mutex
	limit int
	order *list.List // front is most recently used
	index map[string]*list.Element
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time
}

func newLRUCache(limit int) *lruCache {
	if limit <= 0 {
		limit = defaultCacheEntries
	}
	return &lruCache{limit: limit, order: list.New(), index: map[string]*list.Element{}}
}

func (l *lruCache) get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.index[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*lruEntry)
	if !time.Now().Before(e.expires) {
		l.drop(el)
		return nil, false
	}
	l.order.MoveToFront(el)
	return append([]byte(nil), e.value...), true
}

func (l *lruCache) set(key string, value []byte, ttl time.Duration) {
	if key == "" || ttl <= 0 {
		return
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.index[key]; ok {
		e := el.Value.(*lruEntry)
		e.value = append(e.value[:0], value...)
		e.expires = now.Add(ttl)
		l.order.MoveToFront(el)
		return
	}
	l.index[key] = l.order.PushFront(&lruEntry{key: key, value: append([]byte(nil), value...), expires: now.Add(ttl)})

	for el := l.order.Back(); el != nil; {
		prev := el.Prev()
		if e := el.Value.(*lruEntry); e.expires.After(now) && l.order.Len() <= l.limit {
			break
		}
		l.drop(el)
		el = prev
	}
}

func (l *lruCache) remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.index[key]; ok {
		l.drop(el)
	}
}

func (l *lruCache) drop(el *list.Element) {
	delete(l.index, el.Value.(*lruEntry).key)
	l.order.Remove(el)
}
