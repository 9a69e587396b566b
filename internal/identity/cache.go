package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/redis/go-redis/v9"

	"OpenAttest-Core/pkg/logger"
)

// Cache 保存 TXT 查询结果。实现出错时应视为未命中，不影响解析。
type Cache interface {
	Get(ctx context.Context, domain string) ([]string, bool)
	Set(ctx context.Context, domain string, records []string)
}

// CachingResolver 为 TXT 查询加缓存。DID 解析直接透传，以便及时反映控制者变更。
// 不存在的域名与解析错误都不会被缓存。
type CachingResolver struct {
	next   Resolver
	cache  Cache
	logger *slog.Logger
}

// NewCachingResolver 包装 next。cache 为 nil 时返回 next 本身。
func NewCachingResolver(next Resolver, cache Cache, l *slog.Logger) Resolver {
	if cache == nil {
		return next
	}
	return &CachingResolver{next: next, cache: cache, logger: logger.OrDefault(l, "identity.cache")}
}

// ResolveDNSTXT 优先返回缓存的记录。
func (c *CachingResolver) ResolveDNSTXT(ctx context.Context, domain string) ([]string, error) {
	key := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	if records, ok := c.cache.Get(ctx, key); ok {
		c.logger.Debug("txt cache hit", "domain", key)
		return records, nil
	}
	records, err := c.next.ResolveDNSTXT(ctx, domain)
	if err != nil {
		return nil, err
	}
	c.cache.Set(ctx, key, records)
	return records, nil
}

// ResolveDIDKey 透传到下层解析器。
func (c *CachingResolver) ResolveDIDKey(ctx context.Context, did string) (DIDKey, error) {
	return c.next.ResolveDIDKey(ctx, did)
}

// LRUCache 基于 gcache 的进程内缓存。
type LRUCache struct {
	store gcache.Cache
}

// NewLRUCache 创建容量为 size、有效期为 ttl 的 LRU 缓存。
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = 1024
	}
	builder := gcache.New(size).LRU()
	if ttl > 0 {
		builder = builder.Expiration(ttl)
	}
	return &LRUCache{store: builder.Build()}
}

// Get 实现 Cache。
func (c *LRUCache) Get(_ context.Context, domain string) ([]string, bool) {
	v, err := c.store.Get(domain)
	if err != nil {
		return nil, false
	}
	records, ok := v.([]string)
	if !ok {
		return nil, false
	}
	return append([]string(nil), records...), true
}

// Set 实现 Cache。
func (c *LRUCache) Set(_ context.Context, domain string, records []string) {
	_ = c.store.Set(domain, append([]string(nil), records...))
}

// RedisCache 把 TXT 记录以 JSON 数组保存在 Redis 中，供多个实例共享。
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// RedisCacheOption 配置 RedisCache。
type RedisCacheOption func(*RedisCache)

// WithRedisPrefix 设置键前缀。
func WithRedisPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithRedisLogger 设置日志记录器。
func WithRedisLogger(l *slog.Logger) RedisCacheOption {
	return func(c *RedisCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewRedisCache 使用已有客户端创建缓存。
func NewRedisCache(client *redis.Client, ttl time.Duration, opts ...RedisCacheOption) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	c := &RedisCache{client: client, prefix: "oattest:identity:", ttl: ttl, logger: logger.Named("identity.cache")}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get 实现 Cache。
func (c *RedisCache) Get(ctx context.Context, domain string) ([]string, bool) {
	raw, err := c.client.Get(ctx, c.prefix+domain).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis cache read failed", "domain", domain, "error", err)
		}
		return nil, false
	}
	var records []string
	if err := json.Unmarshal(raw, &records); err != nil {
		c.logger.Warn("redis cache entry corrupted", "domain", domain, "error", err)
		return nil, false
	}
	return records, true
}

// Set 实现 Cache。
func (c *RedisCache) Set(ctx context.Context, domain string, records []string) {
	raw, err := json.Marshal(records)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+domain, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("redis cache write failed", "domain", domain, "error", err)
	}
}

// Close 关闭底层连接。
func (c *RedisCache) Close() error {
	return c.client.Close()
}
