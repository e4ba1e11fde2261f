package batch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LogSink 將批次寫入 zap 日誌
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink 創建一個新的 LogSink 實例
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Write 記錄批次中的每個事件
func (s *LogSink) Write(_ context.Context, events []Event) error {
	for _, e := range events {
		s.logger.Info("Analytics event",
			zap.String("type", e.Type),
			zap.String("user_id", e.UserID),
			zap.String("event_id", e.EventID),
			zap.Time("timestamp", e.Timestamp),
			zap.Any("metadata", e.Metadata))
	}
	return nil
}

// RedisSink 將 JSON 編碼的事件追加到 Redis 列表
type RedisSink struct {
	client redis.Cmdable
	key    string
}

// NewRedisSink 創建一個新的 RedisSink 實例
func NewRedisSink(client redis.Cmdable, key string) *RedisSink {
	return &RedisSink{client: client, key: key}
}

// Write 以單次 RPUSH 寫入批次
func (s *RedisSink) Write(ctx context.Context, events []Event) error {
	values := make([]any, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode analytics event: %w", err)
		}
		values = append(values, data)
	}
	if err := s.client.RPush(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to push analytics batch: %w", err)
	}
	return nil
}
