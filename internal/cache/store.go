package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"goflare.io/surge/internal/models"
)

// ErrSetDropped 本地存儲拒絕寫入時返回
var ErrSetDropped = errors.New("cache entry dropped by store")

// Store 定義 TTLCache 背後存儲的接口
type Store interface {
	Set(ctx context.Context, entry *models.Entry, ttl time.Duration) error
	Get(ctx context.Context, key string) (*models.Entry, bool, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Len(ctx context.Context) int
	Close() error
}

// RistrettoStore 使用 Ristretto 實現 Store 接口。記憶體上限為 maxEntries，
// 淘汰由 Ristretto 的准入策略決定。
type RistrettoStore struct {
	cache   *ristretto.Cache[string, *models.Entry]
	tracker *Tracker
	logger  *zap.Logger
}

// NewRistrettoStore 創建一個新的 RistrettoStore 實例
func NewRistrettoStore(maxEntries uint64, logger *zap.Logger) (*RistrettoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxEntries == 0 {
		maxEntries = 1
	}
	numCounters := int64(math.Min(float64(10*maxEntries), float64(math.MaxInt64)))
	maxCost := int64(math.Min(float64(maxEntries), float64(math.MaxInt64)))

	tracker := NewTracker(logger)
	untrack := func(item *ristretto.Item[*models.Entry]) {
		if item.Value != nil {
			tracker.Remove(item.Value.Key)
		}
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, *models.Entry]{
		NumCounters:        numCounters,
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
		OnEvict:            untrack,
		OnReject:           untrack,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Ristretto cache: %w", err)
	}

	return &RistrettoStore{
		cache:   c,
		tracker: tracker,
		logger:  logger,
	}, nil
}

// Set 設置快取項目，ttl 到期後由 Ristretto 回收
func (s *RistrettoStore) Set(ctx context.Context, entry *models.Entry, ttl time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if ttl <= 0 {
		ttl = time.Second
	}
	if !s.cache.SetWithTTL(entry.Key, entry, 1, ttl) {
		s.logger.Warn("Ristretto SetWithTTL failed", zap.String("key", entry.Key))
		return ErrSetDropped
	}
	// 確保下一次 Get 能讀到
	s.cache.Wait()
	s.tracker.Add(entry.Key)
	return nil
}

// Get 獲取快取項目
func (s *RistrettoStore) Get(_ context.Context, key string) (*models.Entry, bool, error) {
	entry, found := s.cache.Get(key)
	if !found || entry == nil {
		return nil, false, nil
	}
	return entry, true, nil
}

// Delete 刪除快取項目
func (s *RistrettoStore) Delete(_ context.Context, key string) error {
	s.cache.Del(key)
	s.tracker.Remove(key)
	return nil
}

// Clear 清空快取
func (s *RistrettoStore) Clear(_ context.Context) error {
	s.cache.Clear()
	s.tracker.Reset()
	return nil
}

// Keys 返回目前追蹤的鍵
func (s *RistrettoStore) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, s.tracker.Len())
	s.tracker.Range(ctx, func(key string) bool {
		keys = append(keys, key)
		return true
	})
	return keys, ctx.Err()
}

// Len 返回追蹤中的項目數量
func (s *RistrettoStore) Len(_ context.Context) int {
	return s.tracker.Len()
}

// Close 關閉快取
func (s *RistrettoStore) Close() error {
	s.cache.Close()
	return nil
}
