// Package batch 緩衝分析事件並批量寫入 sink，記錄事件不會阻塞請求。
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/surge/internal/breaker"
	"goflare.io/surge/internal/config"
)

const defaultWriteTimeout = 10 * time.Second

// Event 一個分析事件
type Event struct {
	Type      string         `json:"type"`
	UserID    string         `json:"userId"`
	EventID   string         `json:"eventId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sink 接收刷新的批次
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// Option 定義 Batcher 的選項
type Option func(*Batcher)

// WithBreaker 讓 sink 寫入經過熔斷器 b
func WithBreaker(b *breaker.Breaker) Option {
	return func(bt *Batcher) {
		bt.breaker = b
	}
}

// WithClock 替換事件時間戳使用的 time.Now
func WithClock(now func() time.Time) Option {
	return func(bt *Batcher) {
		bt.now = now
	}
}

// Batcher 收集事件，達到 MaxBatchSize 或距第一個緩衝事件超過 FlushInterval 時刷新
type Batcher struct {
	cfg     config.BatchConfig
	sink    Sink
	breaker *breaker.Breaker
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	buf    []Event
	timer  *time.Timer
	closed bool

	writes  sync.WaitGroup
	flushed atomic.Int64
	dropped atomic.Int64
}

// NewBatcher 創建一個新的 Batcher 實例
func NewBatcher(cfg config.BatchConfig, sink Sink, logger *zap.Logger, opts ...Option) (*Batcher, error) {
	if cfg.MaxBatchSize < 1 {
		return nil, config.ErrInvalidBatchSize
	}
	if sink == nil {
		return nil, fmt.Errorf("batch sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Batcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Track 緩衝事件，Timestamp 為零值時設為當前時間。Close 之後的事件會被丟棄。
func (b *Batcher) Track(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.dropped.Inc()
		return
	}

	b.buf = append(b.buf, event)
	if len(b.buf) >= b.cfg.MaxBatchSize {
		b.flushLocked()
		return
	}
	if b.timer == nil && b.cfg.FlushInterval > 0 {
		b.timer = time.AfterFunc(b.cfg.FlushInterval, b.Flush)
	}
}

// Flush 將緩衝事件交給 sink，不等待寫入完成
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.buf) == 0 {
		return
	}

	events := b.buf
	b.buf = nil

	b.writes.Add(1)
	go func() {
		defer b.writes.Done()
		b.write(events)
	}()
}

func (b *Batcher) write(events []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	var err error
	if b.breaker != nil {
		_, err = b.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
			return nil, b.sink.Write(ctx, events)
		}, nil)
	} else {
		err = b.sink.Write(ctx, events)
	}

	if err != nil {
		b.dropped.Add(int64(len(events)))
		b.logger.Error("Failed to flush analytics events", zap.Int("count", len(events)), zap.Error(err))
		return
	}
	b.flushed.Add(int64(len(events)))
	b.logger.Debug("Flushed analytics events", zap.Int("count", len(events)))
}

// Len 返回緩衝中的事件數量
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Flushed 返回成功寫入的事件數量
func (b *Batcher) Flushed() int64 {
	return b.flushed.Load()
}

// Dropped 返回因寫入失敗或關閉後記錄而丟失的事件數量
func (b *Batcher) Dropped() int64 {
	return b.dropped.Load()
}

// Close 刷新緩衝並等待未完成的寫入，或等到 ctx 結束
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.flushLocked()
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.writes.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
