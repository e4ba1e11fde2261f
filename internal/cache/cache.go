// Package cache 在可替換的存儲之上實現 stale-while-revalidate 的 TTL 快取。
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goflare.io/surge/internal/config"
	"goflare.io/surge/internal/models"
)

// Lookup 快取命中的結果
type Lookup struct {
	Value    any
	Stale    bool
	StoredAt time.Time
}

// Option 定義 TTLCache 的選項
type Option func(*TTLCache)

// WithClock 替換 time.Now，主要用於測試
func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) {
		c.now = now
	}
}

// TTLCache 在 TTL 內視項目為新鮮，之後在過期窗口內視為過期可用，再之後不再提供。
type TTLCache struct {
	name    string
	store   Store
	cfg     config.CacheConfig
	metrics *models.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New 在 store 之上創建名為 name 的 TTLCache
func New(name string, cfg config.CacheConfig, store Store, logger *zap.Logger, opts ...Option) *TTLCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &TTLCache{
		name:    name,
		store:   store,
		cfg:     cfg,
		metrics: models.NewMetrics(),
		logger:  logger.With(zap.String("cache", name)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewMemory 創建以有界 Ristretto 存儲為後端的 TTLCache
func NewMemory(name string, cfg config.CacheConfig, logger *zap.Logger, opts ...Option) (*TTLCache, error) {
	store, err := NewRistrettoStore(cfg.MaxEntries, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create store for cache %s: %w", name, err)
	}
	return New(name, cfg, store, logger, opts...), nil
}

// Name 返回快取名稱
func (c *TTLCache) Name() string {
	return c.name
}

// Get 獲取快取項目，不存在或已超過過期窗口時視為未命中。
// 存儲錯誤只記錄日誌並當作未命中。
func (c *TTLCache) Get(ctx context.Context, key string) (Lookup, bool) {
	entry, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Failed to read cache entry", zap.String("key", key), zap.Error(err))
		found = false
	}
	if !found {
		c.metrics.Misses.Inc()
		return Lookup{}, false
	}

	switch entry.FreshnessAt(c.now()) {
	case models.Fresh:
		c.metrics.Hits.Inc()
		return Lookup{Value: entry.Value, StoredAt: entry.StoredAt}, true
	case models.Stale:
		c.metrics.StaleHits.Inc()
		return Lookup{Value: entry.Value, Stale: true, StoredAt: entry.StoredAt}, true
	default:
		c.metrics.Misses.Inc()
		return Lookup{}, false
	}
}

// Set 設置快取項目，freshTTL 非正數時使用配置的默認值
func (c *TTLCache) Set(ctx context.Context, key string, value any, freshTTL time.Duration) error {
	if freshTTL <= 0 {
		freshTTL = c.cfg.FreshTTL
	}
	stale := c.cfg.StaleFor(freshTTL)
	entry := models.NewEntry(key, value, c.now(), freshTTL, stale)

	if err := c.store.Set(ctx, entry, freshTTL+stale); err != nil {
		c.logger.Warn("Failed to set cache entry", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	c.metrics.Sets.Inc()
	return nil
}

// Delete 刪除快取項目
func (c *TTLCache) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Clear 清空快取
func (c *TTLCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Keys 返回存儲中的所有鍵，包含尚未回收的已過期項目
func (c *TTLCache) Keys(ctx context.Context) ([]string, error) {
	return c.store.Keys(ctx)
}

// Len 返回存儲中的項目數量
func (c *TTLCache) Len(ctx context.Context) int {
	return c.store.Len(ctx)
}

// Metrics 返回命中與未命中計數
func (c *TTLCache) Metrics() models.MetricsSnapshot {
	return c.metrics.Snapshot()
}

// Close 關閉快取
func (c *TTLCache) Close() error {
	return c.store.Close()
}
