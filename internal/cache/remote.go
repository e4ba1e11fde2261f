package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/surge/internal/models"
	"goflare.io/surge/internal/retrier"
	"goflare.io/surge/pkg/serialization"
)

const filterSuffix = "__bloom"

// RedisStore 將項目存放在 Redis 的 prefix 之下。寫入過的鍵記錄在布隆過濾器中，
// 大部分未命中無需往返 Redis；寫入經由 retrier 重試。
type RedisStore struct {
	client  redis.Cmdable
	prefix  string
	encoder func(io.Writer) serialization.Encoder
	decoder func(io.Reader) serialization.Decoder
	retrier *retrier.Retrier
	logger  *zap.Logger

	filterMu      sync.Mutex
	filter        *bloom.BloomFilter
	expectedItems uint
	falsePositive float64
}

// RedisStoreOptions RedisStore 的配置
type RedisStoreOptions struct {
	Prefix            string
	ExpectedItems     uint
	FalsePositiveRate float64
	Encoder           func(io.Writer) serialization.Encoder
	Decoder           func(io.Reader) serialization.Decoder
	Retrier           *retrier.Retrier
	Logger            *zap.Logger
}

// NewRedisStore 創建 RedisStore，並載入上一個進程保存的布隆過濾器
func NewRedisStore(ctx context.Context, client redis.Cmdable, opts RedisStoreOptions) (*RedisStore, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Encoder == nil || opts.Decoder == nil {
		opts.Encoder, opts.Decoder = serialization.JSONEncoder, serialization.JSONDecoder
	}
	if opts.ExpectedItems == 0 {
		opts.ExpectedItems = 10_000
	}
	if opts.FalsePositiveRate <= 0 || opts.FalsePositiveRate >= 1 {
		opts.FalsePositiveRate = 0.01
	}
	if opts.Retrier == nil {
		r, err := retrier.NewRetrier(3, 50*time.Millisecond, time.Second, 2, 0.1, retrier.ExponentialBackoff, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create retrier: %w", err)
		}
		opts.Retrier = r
	}

	s := &RedisStore{
		client:        client,
		prefix:        opts.Prefix,
		encoder:       opts.Encoder,
		decoder:       opts.Decoder,
		retrier:       opts.Retrier,
		logger:        opts.Logger,
		filter:        bloom.NewWithEstimates(opts.ExpectedItems, opts.FalsePositiveRate),
		expectedItems: opts.ExpectedItems,
		falsePositive: opts.FalsePositiveRate,
	}

	if err := s.loadFilter(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

// Set 編碼並寫入快取項目
func (s *RedisStore) Set(ctx context.Context, entry *models.Entry, ttl time.Duration) error {
	var buf bytes.Buffer
	if err := s.encoder(&buf).Encode(entry); err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	err := s.retrier.Run(ctx, func() error {
		return s.client.Set(ctx, s.redisKey(entry.Key), buf.Bytes(), ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to set remote entry: %w", err)
	}

	s.filterMu.Lock()
	s.filter.AddString(entry.Key)
	s.filterMu.Unlock()
	return nil
}

// Get 讀取快取項目。讀取不重試，慢的 Redis 最多拖慢一次往返。
func (s *RedisStore) Get(ctx context.Context, key string) (*models.Entry, bool, error) {
	s.filterMu.Lock()
	maybe := s.filter.TestString(key)
	s.filterMu.Unlock()
	if !maybe {
		s.logger.Debug("Bloom filter negative for key", zap.String("key", key))
		return nil, false, nil
	}

	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get remote entry: %w", err)
	}

	var entry models.Entry
	if err := s.decoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &entry, true, nil
}

// Delete 刪除快取項目，布隆過濾器保留該鍵，誤判只多一次往返
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.retrier.Run(ctx, func() error {
		return s.client.Del(ctx, s.redisKey(key)).Err()
	})
}

// Clear 刪除 prefix 下所有鍵並重置布隆過濾器
func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		err = s.retrier.Run(ctx, func() error {
			return s.client.Del(ctx, keys...).Err()
		})
		if err != nil {
			return fmt.Errorf("failed to clear remote entries: %w", err)
		}
	}

	s.filterMu.Lock()
	s.filter = bloom.NewWithEstimates(s.expectedItems, s.falsePositive)
	s.filterMu.Unlock()
	return nil
}

// Keys 列出 prefix 下的快取鍵
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	redisKeys, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(redisKeys))
	for _, k := range redisKeys {
		keys = append(keys, k[len(s.prefix):])
	}
	return keys, nil
}

// Len 計算 prefix 下的鍵數量
func (s *RedisStore) Len(ctx context.Context) int {
	keys, err := s.scan(ctx)
	if err != nil {
		s.logger.Warn("Failed to count remote entries", zap.Error(err))
		return 0
	}
	return len(keys)
}

func (s *RedisStore) scan(ctx context.Context) ([]string, error) {
	var (
		all    []string
		cursor uint64
	)
	filterKey := s.redisKey(filterSuffix)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys from remote cache: %w", err)
		}
		for _, k := range keys {
			if k != filterKey {
				all = append(all, k)
			}
		}
		cursor = next
		if cursor == 0 {
			return all, nil
		}
	}
}

// Close 保存布隆過濾器，供下一個進程直接使用
func (s *RedisStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.saveFilter(ctx)
}

func (s *RedisStore) saveFilter(ctx context.Context) error {
	var buf bytes.Buffer
	s.filterMu.Lock()
	_, err := s.filter.WriteTo(&buf)
	s.filterMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to serialize bloom filter: %w", err)
	}
	if err := s.client.Set(ctx, s.redisKey(filterSuffix), buf.Bytes(), 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to save bloom filter: %w", err)
	}
	return nil
}

func (s *RedisStore) loadFilter(ctx context.Context) error {
	data, err := s.client.Get(ctx, s.redisKey(filterSuffix)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.logger.Info("Bloom filter not found in remote cache, creating new one", zap.String("prefix", s.prefix))
			return nil
		}
		return fmt.Errorf("failed to load bloom filter from remote cache: %w", err)
	}

	filter := bloom.NewWithEstimates(s.expectedItems, s.falsePositive)
	if _, err := filter.ReadFrom(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to deserialize bloom filter: %w", err)
	}

	s.filterMu.Lock()
	s.filter = filter
	s.filterMu.Unlock()
	return nil
}
