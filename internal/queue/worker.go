package queue

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"goflare.io/surge/internal/retrier"
)

// worker 持續領取就緒任務直到隊列關閉
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	logger := q.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-q.stop:
			return
		default:
		}

		task, wait := q.claim()
		if task != nil {
			q.run(logger, task)
			continue
		}

		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-q.stop:
				t.Stop()
				return
			case <-q.runCtx.Done():
				t.Stop()
				return
			case <-q.wake:
				t.Stop()
			case <-t.C:
			}
			continue
		}

		select {
		case <-q.stop:
			return
		case <-q.runCtx.Done():
			return
		case <-q.wake:
		}
	}
}

// claim 將第一個就緒任務轉為 processing。沒有就緒任務時返回最早就緒的剩餘時間，
// 沒有等待任務時返回 0。
func (q *Queue) claim() (*Task, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var wait time.Duration
	for i, task := range q.pending {
		if !task.ReadyAt.After(now) {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			task.Status = StatusProcessing
			started := now
			task.StartedAt = &started
			q.processing++
			if len(q.pending) > 0 {
				q.signal()
			}
			return task, 0
		}
		if d := task.ReadyAt.Sub(now); wait == 0 || d < wait {
			wait = d
		}
	}
	return nil, wait
}

// run 執行任務並結算結果
func (q *Queue) run(logger *zap.Logger, task *Task) {
	ctx, span := q.tracer.Start(q.runCtx, "queue.process")
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.Int("task.retries", task.Retries),
	)
	defer span.End()

	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			q.settle(logger, task, nil, retrier.Permanent(fmt.Errorf("dispatch aborted: %w", err)), 0)
			return
		}
	}

	if q.cfg.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.ProcessTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := q.invoke(ctx, task.Payload)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	q.settle(logger, task, result, err, elapsed)
}

// invoke 呼叫 processor，將 panic 轉為錯誤
func (q *Queue) invoke(ctx context.Context, payload any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return q.process(ctx, payload)
}

// settle 記錄一次嘗試的結果
func (q *Queue) settle(logger *zap.Logger, task *Task, result any, err error, elapsed time.Duration) {
	q.mu.Lock()

	q.processing--
	now := q.now()
	if elapsed > 0 {
		if q.avgProcessing == 0 {
			q.avgProcessing = elapsed
		} else {
			q.avgProcessing = time.Duration(0.8*float64(q.avgProcessing) + 0.2*float64(elapsed))
		}
	}

	if err == nil {
		task.Status = StatusCompleted
		task.Result = result
		task.Error = ""
		task.FinishedAt = &now
		q.completed++
		q.mu.Unlock()
		logger.Info("Task completed", zap.String("task_id", task.ID), zap.Int("retries", task.Retries))
		return
	}

	task.Error = err.Error()
	if retrier.IsPermanent(err) || task.Retries >= q.cfg.MaxRetries {
		task.Status = StatusFailed
		task.FinishedAt = &now
		q.failed++
		q.mu.Unlock()
		logger.Error("Task failed", zap.String("task_id", task.ID), zap.Int("retries", task.Retries), zap.Error(err))
		return
	}

	task.Retries++
	task.Status = StatusPending
	task.StartedAt = nil
	task.ReadyAt = now
	if q.backoff != nil {
		task.ReadyAt = now.Add(q.backoff.Delay(task.Retries - 1))
	}
	q.pending = append(q.pending, task)
	q.mu.Unlock()

	q.signal()
	logger.Warn("Task attempt failed, retrying",
		zap.String("task_id", task.ID),
		zap.Int("retries", task.Retries),
		zap.Time("ready_at", task.ReadyAt),
		zap.Error(err))
}

// janitor 定期清除結束超過 TaskRetention 的任務
func (q *Queue) janitor() {
	defer q.wg.Done()

	interval := q.cfg.TaskRetention / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-q.runCtx.Done():
			return
		case <-ticker.C:
			if n := q.evictExpired(q.now()); n > 0 {
				q.logger.Debug("Evicted settled tasks", zap.Int("count", n))
			}
		}
	}
}

// evictExpired 移除結束超過 TaskRetention 的任務
func (q *Queue) evictExpired(now time.Time) int {
	if q.cfg.TaskRetention <= 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for id, task := range q.tasks {
		if task.Status.Terminal() && task.FinishedAt != nil && now.Sub(*task.FinishedAt) >= q.cfg.TaskRetention {
			delete(q.tasks, id)
			n++
		}
	}
	return n
}
