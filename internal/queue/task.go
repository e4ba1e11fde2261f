package queue

import (
	"errors"
	"time"
)

var (
	// ErrTaskNotFound 任務不存在或已被清除
	ErrTaskNotFound = errors.New("task not found")
	// ErrQueueFull 等待中的任務已達 MaxPending
	ErrQueueFull = errors.New("queue is full")
	// ErrDuplicateTask 任務 id 仍在隊列中
	ErrDuplicateTask = errors.New("task id already queued")
	// ErrQueueClosed Close 之後呼叫 Enqueue 時返回
	ErrQueueClosed = errors.New("queue closed")
)

// Status 任務的生命週期狀態
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal 檢查狀態是否已終結
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task 隊列中的一個工作單元。狀態只會前進，唯有仍可重試的失敗會回到 pending。
type Task struct {
	ID         string     `json:"taskId"`
	Payload    any        `json:"payload,omitempty"`
	Status     Status     `json:"status"`
	Retries    int        `json:"retries"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
	ReadyAt    time.Time  `json:"readyAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Receipt 任務已接受的回執
type Receipt struct {
	TaskID        string        `json:"taskId"`
	Status        string        `json:"status"`
	EstimatedWait time.Duration `json:"-"`
}

// Stats 隊列統計，Completed 與 Failed 為累計總數
type Stats struct {
	QueueLength   int           `json:"queueLength"`
	Processing    int           `json:"processing"`
	Completed     int64         `json:"completed"`
	Failed        int64         `json:"failed"`
	Retained      int           `json:"retained"`
	Workers       int           `json:"workers"`
	AvgProcessing time.Duration `json:"-"`
}
