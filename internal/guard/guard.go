// Package guard 將快取、去重器與熔斷器組合成請求處理使用的受保護讀取路徑。
package guard

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/surge/internal/breaker"
	"goflare.io/surge/internal/cache"
	"goflare.io/surge/internal/dedup"
)

const (
	revalidatePrefix      = "revalidate:"
	defaultRefreshTimeout = 30 * time.Second
)

// Fetcher 從資料源載入鍵的權威值
type Fetcher func(ctx context.Context) (any, error)

// Result Load 返回給處理函數的結果
type Result struct {
	Data     any  `json:"data"`
	Cached   bool `json:"cached"`
	Stale    bool `json:"stale"`
	Fallback bool `json:"-"`
}

// CacheStatus 返回響應頭使用的 HIT、STALE 或 MISS
func (r Result) CacheStatus() string {
	switch {
	case r.Stale:
		return "STALE"
	case r.Cached:
		return "HIT"
	default:
		return "MISS"
	}
}

// Option 定義 Guard 的選項
type Option func(*Guard)

// WithRefreshTimeout 設置背景刷新的超時
func WithRefreshTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.refreshTimeout = d
		}
	}
}

// Guard 從快取提供讀取，只經由去重器與熔斷器訪問上游
type Guard struct {
	cache          *cache.TTLCache
	dedup          *dedup.Deduplicator
	breaker        *breaker.Breaker
	logger         *zap.Logger
	tracer         trace.Tracer
	refreshTimeout time.Duration

	refreshes  sync.WaitGroup
	refreshing atomic.Int64
}

// New 以給定組件創建 Guard
func New(c *cache.TTLCache, d *dedup.Deduplicator, b *breaker.Breaker, logger *zap.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{
		cache:          c,
		dedup:          d,
		breaker:        b,
		logger:         logger.With(zap.String("cache", c.Name()), zap.String("breaker", b.Name())),
		tracer:         otel.Tracer("guard"),
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load 返回 key 的值。新鮮項目直接返回；過期項目立即返回，同時在背景執行
// 單次刷新；未命中時經熔斷器與去重器載入，結果快取 freshTTL。降級值不快取。
func (g *Guard) Load(ctx context.Context, key string, freshTTL time.Duration, fetch, fallback Fetcher) (Result, error) {
	ctx, span := g.tracer.Start(ctx, "Guard.Load", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if hit, ok := g.cache.Get(ctx, key); ok {
		span.SetAttributes(attribute.Bool("stale", hit.Stale))
		if hit.Stale {
			g.revalidate(ctx, key, freshTTL, fetch)
		}
		return Result{Data: hit.Value, Cached: true, Stale: hit.Stale}, nil
	}

	primary := func(ctx context.Context) (any, error) {
		v, err, _ := g.dedup.Do(ctx, g.flightKey(key), func(ctx context.Context) (any, error) {
			return g.fetchAndStore(ctx, key, freshTTL, fetch)
		})
		return v, err
	}

	var fromFallback bool
	var fb breaker.Func
	if fallback != nil {
		fb = func(ctx context.Context) (any, error) {
			fromFallback = true
			return fallback(ctx)
		}
	}

	v, err := g.breaker.Execute(ctx, primary, fb)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(attribute.Bool("fallback", fromFallback))
	return Result{Data: v, Fallback: fromFallback}, nil
}

// flightKey 以快取名稱區分去重鍵，共用 Deduplicator 的不同快取不會互相頂替
func (g *Guard) flightKey(key string) string {
	return g.cache.Name() + "\x00" + key
}

// fetchAndStore 執行 fetcher 並快取成功的結果
func (g *Guard) fetchAndStore(ctx context.Context, key string, freshTTL time.Duration, fetch Fetcher) (any, error) {
	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.cache.Set(ctx, key, v, freshTTL); err != nil {
		// 等待中的呼叫方仍可使用此值
		g.logger.Warn("Failed to store fetched value", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// revalidate 在請求路徑之外刷新 key，同鍵的併發過期讀取共享一次刷新
func (g *Guard) revalidate(ctx context.Context, key string, freshTTL time.Duration, fetch Fetcher) {
	g.refreshes.Add(1)
	g.refreshing.Inc()
	go func() {
		defer g.refreshes.Done()
		defer g.refreshing.Dec()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.refreshTimeout)
		defer cancel()

		_, err, shared := g.dedup.Do(ctx, revalidatePrefix+g.flightKey(key), func(ctx context.Context) (any, error) {
			if hit, ok := g.cache.Get(ctx, key); ok && !hit.Stale {
				return hit.Value, nil
			}
			return g.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
				return g.fetchAndStore(ctx, key, freshTTL, fetch)
			}, nil)
		})
		if err != nil && !shared {
			g.logger.Warn("Failed to revalidate stale entry", zap.String("key", key), zap.Error(err))
		}
	}()
}

// Invalidate 刪除 key，下一次 Load 重新載入
func (g *Guard) Invalidate(ctx context.Context, key string) error {
	return g.cache.Delete(ctx, key)
}

// Refreshing 返回仍在執行的背景刷新數量
func (g *Guard) Refreshing() int {
	return int(g.refreshing.Load())
}

// Wait 等待所有背景刷新結束
func (g *Guard) Wait() {
	g.refreshes.Wait()
}
