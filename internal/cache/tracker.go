package cache

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Tracker 追蹤本地存儲中的所有鍵，Ristretto 本身無法列舉
type Tracker struct {
	trackedKeys sync.Map
	size        atomic.Int64
	logger      *zap.Logger
}

// NewTracker 創建一個新的 Tracker 實例
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger: logger,
	}
}

// Add 添加鍵
func (t *Tracker) Add(key string) {
	if _, loaded := t.trackedKeys.LoadOrStore(key, struct{}{}); !loaded {
		t.size.Inc()
	}
}

// Remove 移除鍵
func (t *Tracker) Remove(key string) {
	if _, loaded := t.trackedKeys.LoadAndDelete(key); loaded {
		t.size.Dec()
	}
}

// Len 返回追蹤中的鍵數量
func (t *Tracker) Len() int {
	return int(t.size.Load())
}

// Range 遍歷所有追蹤中的鍵
func (t *Tracker) Range(ctx context.Context, f func(key string) bool) {
	t.trackedKeys.Range(func(k, v any) bool {
		select {
		case <-ctx.Done():
			return false
		default:
			if strKey, ok := k.(string); ok {
				return f(strKey)
			}
			t.logger.Warn("Invalid key type in Tracker", zap.Any("key", k))
			return true
		}
	})
}

// Reset 清空所有追蹤的鍵
func (t *Tracker) Reset() {
	t.trackedKeys.Range(func(k, _ any) bool {
		if _, loaded := t.trackedKeys.LoadAndDelete(k); loaded {
			t.size.Dec()
		}
		return true
	})
}
