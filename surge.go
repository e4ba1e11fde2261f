// Package surge 在流量高峰期間保護 Web 後端，將 stale-while-revalidate 快取、
// 請求去重、熔斷器、有界支付隊列與分析事件批處理集中在同一個註冊表中。
package surge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goflare.io/surge/internal/batch"
	"goflare.io/surge/internal/breaker"
	"goflare.io/surge/internal/cache"
	"goflare.io/surge/internal/config"
	"goflare.io/surge/internal/dedup"
	"goflare.io/surge/internal/guard"
	"goflare.io/surge/internal/queue"
)

// New 創建的組件名稱
const (
	BreakerEventList = "eventList"
	BreakerPayments  = "payments"
	BreakerAnalytics = "analytics"

	CacheEvents        = "events"
	CacheAnalytics     = "analytics"
	CacheSchedules     = "schedules"
	CacheRegistrations = "registrations"
)

var (
	defaultBreakers = []string{BreakerEventList, BreakerPayments, BreakerAnalytics}
	defaultCaches   = []string{CacheEvents, CacheAnalytics, CacheSchedules, CacheRegistrations}
)

type (
	Processor  = queue.Processor
	Task       = queue.Task
	TaskStatus = queue.Status
	Receipt    = queue.Receipt
	QueueStats = queue.Stats
	Fetcher    = guard.Fetcher
	Result     = guard.Result
	Event      = batch.Event
	TTLCache   = cache.TTLCache
	Breaker    = breaker.Breaker
	Guard      = guard.Guard
	Queue      = queue.Queue
	Batcher    = batch.Batcher
)

// Surge 定義 Surge 庫的主要結構體
type Surge struct {
	cfg    *config.Config
	logger *zap.Logger
	redis  *redis.Client
	dedup  *dedup.Deduplicator

	mu       sync.Mutex
	caches   map[string]*cache.TTLCache
	breakers map[string]*breaker.Breaker
	guards   map[string]*guard.Guard

	queue   *queue.Queue
	batcher *batch.Batcher
	closed  atomic.Bool
}

// New 初始化 Surge。process 處理每筆排隊的支付，並由 payments 熔斷器保護。
// ctx 只限制啟動過程，背景 worker 持續運行到 Close。
func New(ctx context.Context, process Processor, opts ...Option) (*Surge, error) {
	cfg, err := config.NewConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}

	// 初始化 Logger，如果未設置則使用默認
	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %w", err)
		}
		cfg.Logger = logger
	}

	s := &Surge{
		cfg:      cfg,
		logger:   cfg.Logger,
		dedup:    dedup.New(),
		caches:   make(map[string]*cache.TTLCache),
		breakers: make(map[string]*breaker.Breaker),
		guards:   make(map[string]*guard.Guard),
	}

	// 初始化 Redis 客戶端
	if cfg.Cache.Backend == config.BackendRedis || cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.redis = client
	}

	if err := s.init(ctx, process); err != nil {
		_ = s.closeStores()
		return nil, err
	}

	s.logger.Info("Surge initialized",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("queue_workers", cfg.Queue.MaxConcurrency))
	return s, nil
}

func (s *Surge) init(ctx context.Context, process Processor) error {
	if process == nil {
		return errors.New("payment processor is required")
	}
	for _, name := range defaultBreakers {
		if _, err := s.Breaker(name); err != nil {
			return err
		}
	}
	for _, name := range defaultCaches {
		if _, err := s.cache(ctx, name); err != nil {
			return err
		}
	}

	payments, _ := s.Breaker(BreakerPayments)
	q, err := queue.New(s.cfg.Queue, func(ctx context.Context, payload any) (any, error) {
		return payments.Execute(ctx, func(ctx context.Context) (any, error) {
			return process(ctx, payload)
		}, nil)
	}, s.logger.Named("queue"))
	if err != nil {
		return fmt.Errorf("failed to initialize payment queue: %w", err)
	}

	var sink batch.Sink = batch.NewLogSink(s.logger.Named("analytics"))
	if s.redis != nil {
		sink = batch.NewRedisSink(s.redis, s.cfg.Batch.RedisListKey)
	}
	analytics, _ := s.Breaker(BreakerAnalytics)
	bt, err := batch.NewBatcher(s.cfg.Batch, sink, s.logger.Named("batch"), batch.WithBreaker(analytics))
	if err != nil {
		return fmt.Errorf("failed to initialize analytics batcher: %w", err)
	}

	q.Start(context.WithoutCancel(ctx))
	s.queue = q
	s.batcher = bt
	return nil
}

// Cache 返回具名快取，首次使用時創建
func (s *Surge) Cache(name string) (*TTLCache, error) {
	return s.cache(context.Background(), name)
}

func (s *Surge) cache(ctx context.Context, name string) (*TTLCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caches[name]; ok {
		return c, nil
	}

	logger := s.logger.Named("cache")
	var (
		c   *cache.TTLCache
		err error
	)
	switch s.cfg.Cache.Backend {
	case config.BackendRedis:
		var store *cache.RedisStore
		store, err = cache.NewRedisStore(ctx, s.redis, cache.RedisStoreOptions{
			Prefix:            s.cfg.Redis.KeyPrefix + name + ":",
			ExpectedItems:     s.cfg.Redis.ExpectedItems,
			FalsePositiveRate: s.cfg.Redis.FalsePositiveRate,
			Encoder:           s.cfg.Serialization.Encoder,
			Decoder:           s.cfg.Serialization.Decoder,
			Logger:            logger,
		})
		if err == nil {
			c = cache.New(name, s.cfg.Cache, store, logger)
		}
	default:
		c, err = cache.NewMemory(name, s.cfg.Cache, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache %s: %w", name, err)
	}

	s.caches[name] = c
	return c, nil
}

// Breaker 返回具名熔斷器，首次使用時按該名稱的配置創建
func (s *Surge) Breaker(name string) (*Breaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[name]; ok {
		return b, nil
	}
	b, err := breaker.New(name, s.cfg.BreakerFor(name), s.logger.Named("breaker"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize breaker %s: %w", name, err)
	}
	s.breakers[name] = b
	return b, nil
}

// Guard 返回結合具名快取、熔斷器與共享去重器的讀取路徑
func (s *Surge) Guard(cacheName, breakerName string) (*Guard, error) {
	c, err := s.Cache(cacheName)
	if err != nil {
		return nil, err
	}
	b, err := s.Breaker(breakerName)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := cacheName + "|" + breakerName
	if g, ok := s.guards[key]; ok {
		return g, nil
	}
	g := guard.New(c, s.dedup, b, s.logger.Named("guard"))
	s.guards[key] = g
	return g, nil
}

// Queue 返回支付隊列
func (s *Surge) Queue() *Queue {
	return s.queue
}

// Batcher 返回分析事件批處理器
func (s *Surge) Batcher() *Batcher {
	return s.batcher
}

// Enqueue 登記支付並立即返回
func (s *Surge) Enqueue(id string, payload any) (Receipt, error) {
	return s.queue.Enqueue(id, payload)
}

// TaskStatus 返回排隊支付的當前狀態
func (s *Surge) TaskStatus(id string) (Task, error) {
	return s.queue.Status(id)
}

// Track 記錄分析事件，不阻塞
func (s *Surge) Track(e Event) {
	s.batcher.Track(e)
}

// Close 關閉 Surge，等待隊列與批處理完成後釋放資源
func (s *Surge) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	guards := make([]*guard.Guard, 0, len(s.guards))
	for _, g := range s.guards {
		guards = append(guards, g)
	}
	s.mu.Unlock()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.queue.Close(egCtx)
	})
	eg.Go(func() error {
		return s.batcher.Close(egCtx)
	})
	eg.Go(func() error {
		done := make(chan struct{})
		go func() {
			for _, g := range guards {
				g.Wait()
			}
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-egCtx.Done():
			return egCtx.Err()
		}
	})
	err := eg.Wait()

	if cerr := s.closeStores(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		s.logger.Error("Failed to close Surge cleanly", zap.Error(err))
		return err
	}
	s.logger.Info("Surge closed")
	return nil
}

func (s *Surge) closeStores() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, c := range s.caches {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close cache %s: %w", name, err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis client: %w", err))
		}
	}
	return errors.Join(errs...)
}
