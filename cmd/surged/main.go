package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"goflare.io/surge"
	"goflare.io/surge/internal/httpapi"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "listen address")
		dev        = flag.Bool("dev", false, "human-readable development logging")
		backend    = flag.String("cache-backend", surge.BackendMemory, "cache backend: memory or redis")
		redisAddr  = flag.String("redis-addr", "", "redis address; enables the redis analytics sink, required by -cache-backend=redis")
		redisPass  = flag.String("redis-password", "", "redis password")
		redisDB    = flag.Int("redis-db", 0, "redis database")
		serializer = flag.String("serializer", "json", "redis entry encoding: json, gob or msgpack")

		freshTTL    = flag.Duration("fresh-ttl", 10*time.Second, "default fresh TTL")
		staleWindow = flag.Duration("stale-window", 0, "fixed stale window; 0 uses stale-multiplier")
		staleMult   = flag.Float64("stale-multiplier", 3, "stale window as a multiple of the fresh TTL")
		maxEntries  = flag.Uint64("max-entries", 100_000, "max entries per in-memory cache")

		failThreshold = flag.Uint("breaker-threshold", 5, "failures within the window that open every breaker; unset keeps per-breaker defaults")
		rollingWindow = flag.Duration("breaker-window", 30*time.Second, "breaker failure window, counts reset at each boundary")
		resetTimeout  = flag.Duration("breaker-reset", 30*time.Second, "time a breaker stays open before a trial")
		halfOpenTrial = flag.Uint("breaker-trials", 1, "trial calls admitted at once while half-open")
		halfOpenOK    = flag.Uint("breaker-successes", 1, "successful trials that close a breaker")
		slowCall      = flag.Duration("breaker-slow-call", 0, "calls slower than this count as failures; 0 disables")

		concurrency  = flag.Int("queue-concurrency", 20, "payment workers")
		maxRetries   = flag.Int("queue-retries", 3, "retries per payment")
		retryBackoff = flag.Duration("queue-backoff", 500*time.Millisecond, "base retry backoff")
		maxBackoff   = flag.Duration("queue-max-backoff", 10*time.Second, "max retry backoff")
		retention    = flag.Duration("queue-retention", 10*time.Minute, "how long settled payments stay queryable")
		maxPending   = flag.Int("queue-max-pending", 0, "reject payments beyond this many waiting; 0 is unbounded")
		procTimeout  = flag.Duration("queue-timeout", 30*time.Second, "per-attempt processing timeout")
		dispatchRate = flag.Float64("queue-rate", 0, "max payment starts per second; 0 is unlimited")

		batchSize     = flag.Int("batch-size", 100, "analytics events per flush")
		flushInterval = flag.Duration("batch-interval", 5*time.Second, "analytics flush interval")

		rateLimit = flag.Float64("rate-limit", 0, "requests per second across the API; 0 disables")
		rateBurst = flag.Int("rate-burst", 100, "rate limit burst")

		gatewayLatency = flag.Duration("sim-gateway-latency", 800*time.Millisecond, "simulated payment gateway latency")
		gatewayFailure = flag.Float64("sim-gateway-failure", 0.05, "simulated payment gateway failure ratio")
		dbLatency      = flag.Duration("sim-db-latency", 150*time.Millisecond, "simulated database latency")
		dbFailure      = flag.Float64("sim-db-failure", 0, "simulated database failure ratio")
	)
	flag.Parse()

	logger, err := newLogger(*dev)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// 只有命令列上明確給出的參數會修改熔斷器，payments 與 analytics 其餘設定保持默認
	tuneBreaker := func(bc *surge.BreakerConfig) {
		if set["breaker-threshold"] {
			bc.FailureThreshold = uint32(*failThreshold)
		}
		if set["breaker-window"] {
			bc.RollingWindow = *rollingWindow
		}
		if set["breaker-reset"] {
			bc.ResetTimeout = *resetTimeout
		}
		if set["breaker-trials"] {
			bc.HalfOpenTrialCount = uint32(*halfOpenTrial)
		}
		if set["breaker-successes"] {
			bc.HalfOpenSuccessThreshold = uint32(*halfOpenOK)
		}
		if set["breaker-slow-call"] {
			bc.SlowCallThreshold = *slowCall
		}
	}
	cc := surge.CacheConfig{
		Backend:         *backend,
		FreshTTL:        *freshTTL,
		StaleWindow:     *staleWindow,
		StaleMultiplier: *staleMult,
		MaxEntries:      *maxEntries,
	}

	startCtx, cancelStart := context.WithTimeout(ctx, 10*time.Second)
	s, err := surge.New(startCtx, simulatedGateway(*gatewayLatency, *gatewayFailure),
		surge.WithLogger(logger),
		surge.WithCache(cc),
		surge.WithEachBreaker(tuneBreaker),
		surge.WithQueue(surge.QueueConfig{
			MaxConcurrency:  *concurrency,
			MaxRetries:      *maxRetries,
			RetryBackoff:    *retryBackoff,
			MaxRetryBackoff: *maxBackoff,
			TaskRetention:   *retention,
			MaxPending:      *maxPending,
			ProcessTimeout:  *procTimeout,
			DispatchRate:    *dispatchRate,
		}),
		surge.WithBatch(surge.BatchConfig{
			MaxBatchSize:  *batchSize,
			FlushInterval: *flushInterval,
			RedisListKey:  "surge:analytics",
		}),
		surge.WithRedis(surge.RedisConfig{
			Addr:              *redisAddr,
			Password:          *redisPass,
			DB:                *redisDB,
			KeyPrefix:         "surge:",
			ExpectedItems:     100_000,
			FalsePositiveRate: 0.01,
		}),
		surge.WithSerialization(*serializer),
	)
	cancelStart()
	if err != nil {
		logger.Fatal("Failed to initialize Surge", zap.Error(err))
	}

	resources, err := buildResources(s, cc, simulatedDB(*dbLatency, *dbFailure))
	if err != nil {
		logger.Fatal("Failed to build resources", zap.Error(err))
	}

	api := httpapi.NewServer(httpapi.Deps{
		Resources: resources,
		Payments:  s.Queue(),
		Analytics: s.Batcher(),
		LoadStatus: func(ctx context.Context) any {
			return s.Status(ctx)
		},
	}, logger.Named("http"), httpapi.WithRateLimit(*rateLimit, *rateBurst))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Listening", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	if err := s.Close(shCtx); err != nil {
		logger.Error("Failed to close Surge", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// route 描述一個快取資源使用的快取、熔斷器與 TTL
type route struct {
	name    string
	cache   string
	breaker string
	ttl     time.Duration
}

var routes = []route{
	{name: "events", cache: surge.CacheEvents, breaker: surge.BreakerEventList, ttl: 10 * time.Second},
	{name: "schedules", cache: surge.CacheSchedules, breaker: surge.BreakerEventList, ttl: 20 * time.Second},
	{name: "registrations", cache: surge.CacheRegistrations, breaker: surge.BreakerEventList, ttl: 5 * time.Second},
	{name: "analytics", cache: surge.CacheAnalytics, breaker: surge.BreakerAnalytics, ttl: 60 * time.Second},
}

func buildResources(s *surge.Surge, cc surge.CacheConfig, db func(ctx context.Context, table string, q url.Values) (any, error)) (map[string]httpapi.Resource, error) {
	resources := make(map[string]httpapi.Resource, len(routes))
	for _, r := range routes {
		g, err := s.Guard(r.cache, r.breaker)
		if err != nil {
			return nil, err
		}
		table := r.name
		resources[r.name] = httpapi.Resource{
			Guard: g,
			Fetch: func(ctx context.Context, q url.Values) (any, error) {
				return db(ctx, table, q)
			},
			FreshTTL:    r.ttl,
			StaleWindow: cc.StaleFor(r.ttl),
		}
	}
	return resources, nil
}

// simulatedDB 模擬資料存取層
func simulatedDB(latency time.Duration, failure float64) func(ctx context.Context, table string, q url.Values) (any, error) {
	return func(ctx context.Context, table string, q url.Values) (any, error) {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if rand.Float64() < failure {
			return nil, fmt.Errorf("query %s: connection pool exhausted", table)
		}
		return map[string]any{
			"table":     table,
			"filters":   q,
			"rows":      rand.IntN(50),
			"fetchedAt": time.Now().UTC(),
		}, nil
	}
}

// simulatedGateway 模擬支付服務商
func simulatedGateway(latency time.Duration, failure float64) surge.Processor {
	return func(ctx context.Context, payload any) (any, error) {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if rand.Float64() < failure {
			return nil, errors.New("payment gateway timeout")
		}
		return map[string]any{"paymentId": fmt.Sprintf("pay_%d", time.Now().UnixNano()), "processedAt": time.Now().UTC()}, nil
	}
}
