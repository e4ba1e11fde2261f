package surge

import (
	"go.uber.org/zap"

	"goflare.io/surge/internal/config"
)

// Option 定義初始化 Surge 的選項
type Option = config.Option

// 下列選項接受的配置區段
type (
	CacheConfig   = config.CacheConfig
	BreakerConfig = config.BreakerConfig
	QueueConfig   = config.QueueConfig
	BatchConfig   = config.BatchConfig
	RedisConfig   = config.RedisConfig
)

// 快取後端
const (
	BackendMemory = config.BackendMemory
	BackendRedis  = config.BackendRedis
)

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option {
	return config.WithLogger(logger)
}

// WithCache 設置快取配置
func WithCache(cc CacheConfig) Option {
	return config.WithCache(cc)
}

// WithBreaker 設置默認熔斷器配置
func WithBreaker(bc BreakerConfig) Option {
	return config.WithBreaker(bc)
}

// WithNamedBreaker 覆蓋單個熔斷器的配置
func WithNamedBreaker(name string, bc BreakerConfig) Option {
	return config.WithNamedBreaker(name, bc)
}

// WithEachBreaker 對所有熔斷器套用同一調整，保留其餘個別設定
func WithEachBreaker(adjust func(bc *BreakerConfig)) Option {
	return config.WithEachBreaker(adjust)
}

// WithQueue 設置支付隊列配置
func WithQueue(qc QueueConfig) Option {
	return config.WithQueue(qc)
}

// WithBatch 設置分析事件批處理配置
func WithBatch(bc BatchConfig) Option {
	return config.WithBatch(bc)
}

// WithRedis 設置 Redis，用於遠端快取和分析事件
func WithRedis(rc RedisConfig) Option {
	return config.WithRedis(rc)
}

// WithSerialization 設置序列化方式：json、gob 或 msgpack
func WithSerialization(kind string) Option {
	return config.WithSerialization(kind)
}
