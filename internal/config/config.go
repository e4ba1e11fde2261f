package config

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"goflare.io/surge/pkg/serialization"
)

// 快取後端
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config 用於 Surge 的配置
type Config struct {
	Cache            CacheConfig
	Breaker          BreakerConfig
	BreakerOverrides map[string]BreakerConfig // 按名稱覆蓋熔斷器配置
	Queue            QueueConfig
	Batch            BatchConfig
	Redis            RedisConfig
	Serialization    SerializationConfig
	Logger           *zap.Logger
}

// CacheConfig 快取相關配置
type CacheConfig struct {
	Backend         string
	FreshTTL        time.Duration
	StaleWindow     time.Duration // 固定的過期後可用窗口，優先於 StaleMultiplier
	StaleMultiplier float64
	MaxEntries      uint64
}

// BreakerConfig 熔斷器配置
type BreakerConfig struct {
	FailureThreshold         uint32
	RollingWindow            time.Duration // 固定窗口：關閉狀態下每過一個窗口計數整批清零，並非滑動窗口
	ResetTimeout             time.Duration
	HalfOpenTrialCount       uint32        // 半開狀態同時放行的試探呼叫上限
	HalfOpenSuccessThreshold uint32        // 半開狀態連續成功達此數即關閉
	SlowCallThreshold        time.Duration // 0 表示不把慢請求視為失敗
}

// QueueConfig 軟隊列配置
type QueueConfig struct {
	MaxConcurrency  int
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	TaskRetention   time.Duration
	MaxPending      int // 0 表示不限制等待長度
	ProcessTimeout  time.Duration
	DispatchRate    float64 // 每秒最多開始的任務數，0 表示不限速
}

// BatchConfig 分析事件批處理配置
type BatchConfig struct {
	MaxBatchSize  int
	FlushInterval time.Duration
	RedisListKey  string
}

// RedisConfig 遠端存儲配置
type RedisConfig struct {
	Addr              string
	Password          string
	DB                int
	KeyPrefix         string
	ExpectedItems     uint
	FalsePositiveRate float64
}

// SerializationConfig 序列化相關配置
type SerializationConfig struct {
	Type    string
	Encoder func(io.Writer) serialization.Encoder
	Decoder func(io.Reader) serialization.Decoder
}

// Option 函數類型
type Option func(*Config) error

var (
	ErrInvalidFreshTTL       = errors.New("fresh TTL must be greater than 0")
	ErrInvalidStaleWindow    = errors.New("stale window and multiplier must not be negative")
	ErrInvalidBackend        = errors.New("unknown cache backend")
	ErrInvalidThreshold      = errors.New("failure threshold must be at least 1")
	ErrInvalidResetTimeout   = errors.New("reset timeout must be greater than 0")
	ErrInvalidHalfOpen       = errors.New("half-open trial count and success threshold must be at least 1")
	ErrInvalidConcurrency    = errors.New("max concurrency must be at least 1")
	ErrInvalidRetries        = errors.New("max retries must not be negative")
	ErrInvalidBatchSize      = errors.New("max batch size must be at least 1")
	ErrMissingRedisAddr      = errors.New("redis address is required for the redis backend")
	ErrUnsupportedSerializer = errors.New("unsupported serialization type")
)

// DefaultBreaker 返回沒有覆蓋時使用的熔斷器配置
func DefaultBreaker() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:         5,
		RollingWindow:            30 * time.Second,
		ResetTimeout:             30 * time.Second,
		HalfOpenTrialCount:       1,
		HalfOpenSuccessThreshold: 1,
	}
}

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	cfg := &Config{
		Cache: CacheConfig{
			Backend:         BackendMemory,
			FreshTTL:        10 * time.Second,
			StaleMultiplier: 3,
			MaxEntries:      100_000,
		},
		Breaker: DefaultBreaker(),
		BreakerOverrides: map[string]BreakerConfig{
			"payments": {
				FailureThreshold:         3,
				RollingWindow:            30 * time.Second,
				ResetTimeout:             60 * time.Second,
				HalfOpenTrialCount:       1,
				HalfOpenSuccessThreshold: 1,
				SlowCallThreshold:        2 * time.Second,
			},
			"analytics": {
				FailureThreshold:         10,
				RollingWindow:            30 * time.Second,
				ResetTimeout:             45 * time.Second,
				HalfOpenTrialCount:       2,
				HalfOpenSuccessThreshold: 2,
				SlowCallThreshold:        3 * time.Second,
			},
		},
		Queue: QueueConfig{
			MaxConcurrency:  20,
			MaxRetries:      3,
			RetryBackoff:    500 * time.Millisecond,
			MaxRetryBackoff: 10 * time.Second,
			TaskRetention:   10 * time.Minute,
			ProcessTimeout:  30 * time.Second,
		},
		Batch: BatchConfig{
			MaxBatchSize:  100,
			FlushInterval: 5 * time.Second,
			RedisListKey:  "surge:analytics",
		},
		Redis: RedisConfig{
			KeyPrefix:         "surge:",
			ExpectedItems:     100_000,
			FalsePositiveRate: 0.01,
		},
		Serialization: SerializationConfig{
			Type:    serialization.JSONType,
			Encoder: serialization.JSONEncoder,
			Decoder: serialization.JSONDecoder,
		},
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BreakerFor 返回具名熔斷器的配置
func (c *Config) BreakerFor(name string) BreakerConfig {
	if bc, ok := c.BreakerOverrides[name]; ok {
		return bc
	}
	return c.Breaker
}

// Validate 檢查所有配置區段
func (c *Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if c.Cache.Backend == BackendRedis && c.Redis.Addr == "" {
		return ErrMissingRedisAddr
	}
	if err := c.Breaker.Validate(); err != nil {
		return err
	}
	for name, bc := range c.BreakerOverrides {
		if err := bc.Validate(); err != nil {
			return fmt.Errorf("breaker %q: %w", name, err)
		}
	}
	if err := c.Queue.Validate(); err != nil {
		return err
	}
	if c.Batch.MaxBatchSize < 1 {
		return ErrInvalidBatchSize
	}
	return nil
}

// Validate 檢查快取配置
func (cc CacheConfig) Validate() error {
	if cc.FreshTTL <= 0 {
		return ErrInvalidFreshTTL
	}
	if cc.StaleWindow < 0 || cc.StaleMultiplier < 0 {
		return ErrInvalidStaleWindow
	}
	switch cc.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidBackend, cc.Backend)
	}
	return nil
}

// StaleFor 返回新鮮期 ttl 之後的過期窗口
func (cc CacheConfig) StaleFor(ttl time.Duration) time.Duration {
	if cc.StaleWindow > 0 {
		return cc.StaleWindow
	}
	return time.Duration(float64(ttl) * cc.StaleMultiplier)
}

// Validate 檢查熔斷器配置
func (bc BreakerConfig) Validate() error {
	if bc.FailureThreshold < 1 {
		return ErrInvalidThreshold
	}
	if bc.ResetTimeout <= 0 {
		return ErrInvalidResetTimeout
	}
	if bc.HalfOpenTrialCount < 1 || bc.HalfOpenSuccessThreshold < 1 {
		return ErrInvalidHalfOpen
	}
	return nil
}

// Validate 檢查隊列配置
func (qc QueueConfig) Validate() error {
	if qc.MaxConcurrency < 1 {
		return ErrInvalidConcurrency
	}
	if qc.MaxRetries < 0 {
		return ErrInvalidRetries
	}
	return nil
}

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithCache 設置快取配置
func WithCache(cc CacheConfig) Option {
	return func(c *Config) error {
		c.Cache = cc
		return nil
	}
}

// WithBreaker 設置默認熔斷器配置
func WithBreaker(bc BreakerConfig) Option {
	return func(c *Config) error {
		c.Breaker = bc
		return nil
	}
}

// WithNamedBreaker 覆蓋單個熔斷器的配置
func WithNamedBreaker(name string, bc BreakerConfig) Option {
	return func(c *Config) error {
		if c.BreakerOverrides == nil {
			c.BreakerOverrides = make(map[string]BreakerConfig)
		}
		c.BreakerOverrides[name] = bc
		return nil
	}
}

// WithEachBreaker 對默認熔斷器與所有具名覆蓋套用同一調整
func WithEachBreaker(adjust func(bc *BreakerConfig)) Option {
	return func(c *Config) error {
		adjust(&c.Breaker)
		for name, bc := range c.BreakerOverrides {
			adjust(&bc)
			c.BreakerOverrides[name] = bc
		}
		return nil
	}
}

// WithQueue 設置支付隊列配置
func WithQueue(qc QueueConfig) Option {
	return func(c *Config) error {
		c.Queue = qc
		return nil
	}
}

// WithBatch 設置分析事件批處理配置
func WithBatch(bc BatchConfig) Option {
	return func(c *Config) error {
		c.Batch = bc
		return nil
	}
}

// WithRedis 設置遠端 Redis
func WithRedis(rc RedisConfig) Option {
	return func(c *Config) error {
		c.Redis = rc
		return nil
	}
}

// WithSerialization 設置序列化方式
func WithSerialization(kind string) Option {
	return func(c *Config) error {
		switch kind {
		case serialization.JSONType:
			c.Serialization.Encoder = serialization.JSONEncoder
			c.Serialization.Decoder = serialization.JSONDecoder
		case serialization.GobType:
			c.Serialization.Encoder = serialization.GobEncoder
			c.Serialization.Decoder = serialization.GobDecoder
		case serialization.MsgpackType:
			c.Serialization.Encoder = serialization.MsgpackEncoder
			c.Serialization.Decoder = serialization.MsgpackDecoder
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedSerializer, kind)
		}
		c.Serialization.Type = kind
		return nil
	}
}
