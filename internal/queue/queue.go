// Package queue 實現有界軟隊列：任務立即接受，由固定數量的 worker 在背景處理。
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"goflare.io/surge/internal/config"
	"goflare.io/surge/internal/retrier"
)

// defaultEstimate 尚無任務完成時用於估算等待時間
const defaultEstimate = 500 * time.Millisecond

// Processor 執行一個工作單元，例如呼叫支付閘道
type Processor func(ctx context.Context, payload any) (any, error)

// Option 定義 Queue 的選項
type Option func(*Queue)

// WithClock 替換 time.Now，用於就緒時間與保留期計算
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// Queue 立即接受任務，同時執行的任務不超過 MaxConcurrency。就緒任務按 FIFO
// 領取；重試任務帶退避延遲排到隊尾，重試後的順序不保證。
// 未設置 MaxPending 時等待長度不設上限。
type Queue struct {
	cfg     config.QueueConfig
	process Processor
	backoff *retrier.Retrier
	limiter *rate.Limiter
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time

	mu            sync.Mutex
	tasks         map[string]*Task
	pending       []*Task
	processing    int
	completed     int64
	failed        int64
	avgProcessing time.Duration
	closed        bool

	wake      chan struct{}
	stop      chan struct{}
	runCtx    context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	wg        sync.WaitGroup
}

// New 創建 Queue，呼叫 Start 之前 worker 不會運行
func New(cfg config.QueueConfig, process Processor, logger *zap.Logger, opts ...Option) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queue config: %w", err)
	}
	if process == nil {
		return nil, errors.New("queue processor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		cfg:     cfg,
		process: process,
		logger:  logger,
		tracer:  otel.Tracer("queue"),
		now:     time.Now,
		tasks:   make(map[string]*Task),
		wake:    make(chan struct{}, cfg.MaxConcurrency),
		stop:    make(chan struct{}),
	}

	if cfg.RetryBackoff > 0 {
		r, err := retrier.NewRetrier(cfg.MaxRetries+1, cfg.RetryBackoff, cfg.MaxRetryBackoff, 2, 0.1, retrier.ExponentialBackoff, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create retry backoff: %w", err)
		}
		q.backoff = r
	}
	if cfg.DispatchRate > 0 {
		burst := int(cfg.DispatchRate)
		if burst < 1 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), burst)
	}

	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Start 啟動 worker 與保留期清理例程，重複呼叫無效果
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}

		q.runCtx, q.cancel = context.WithCancel(ctx)

		q.wg.Add(q.cfg.MaxConcurrency)
		for i := 0; i < q.cfg.MaxConcurrency; i++ {
			go q.worker(i)
		}

		if q.cfg.TaskRetention > 0 {
			q.wg.Add(1)
			go q.janitor()
		}
		q.logger.Info("Queue started", zap.Int("workers", q.cfg.MaxConcurrency))
	})
}

// Enqueue 登記任務後立即返回，不等待執行。id 為空時自動生成。
func (q *Queue) Enqueue(id string, payload any) (Receipt, error) {
	if id == "" {
		id = uuid.NewString()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Receipt{}, ErrQueueClosed
	}
	if _, exists := q.tasks[id]; exists {
		q.mu.Unlock()
		return Receipt{}, fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	if q.cfg.MaxPending > 0 && len(q.pending) >= q.cfg.MaxPending {
		q.mu.Unlock()
		return Receipt{}, ErrQueueFull
	}

	now := q.now()
	task := &Task{
		ID:         id,
		Payload:    payload,
		Status:     StatusPending,
		EnqueuedAt: now,
		ReadyAt:    now,
	}
	q.tasks[id] = task
	q.pending = append(q.pending, task)
	estimate := q.estimateLocked(len(q.pending))
	q.mu.Unlock()

	q.signal()
	q.logger.Debug("Task queued", zap.String("task_id", id))

	return Receipt{TaskID: id, Status: "queued", EstimatedWait: estimate}, nil
}

// estimateLocked 估算位於 position 的任務完成前的等待時間
func (q *Queue) estimateLocked(position int) time.Duration {
	avg := q.avgProcessing
	if avg == 0 {
		avg = defaultEstimate
	}
	waves := (position + q.cfg.MaxConcurrency - 1) / q.cfg.MaxConcurrency
	return time.Duration(waves) * avg
}

// Status 返回任務的副本
func (q *Queue) Status(id string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *task, nil
}

// Stats 返回當前隊列統計
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		QueueLength:   len(q.pending),
		Processing:    q.processing,
		Completed:     q.completed,
		Failed:        q.failed,
		Retained:      len(q.tasks),
		Workers:       q.cfg.MaxConcurrency,
		AvgProcessing: q.avgProcessing,
	}
}

// EstimatedWait 估算現在入隊的任務需要等待多久
func (q *Queue) EstimatedWait() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.estimateLocked(len(q.pending) + 1)
}

// signal 喚醒一個閒置的 worker
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close 停止接受任務並等待執行中的任務結束，ctx 先結束則取消執行中的任務
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stop)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if q.cancel != nil {
			q.cancel()
		}
		<-done
		return ctx.Err()
	}
	if q.cancel != nil {
		q.cancel()
	}
	q.logger.Info("Queue closed")
	return nil
}
