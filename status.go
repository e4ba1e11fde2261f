package surge

import (
	"context"
	"runtime"
	"sort"
	"time"

	"goflare.io/surge/internal/breaker"
	"goflare.io/surge/internal/models"
)

// LoadStatus 所有組件在某時刻的狀態
type LoadStatus struct {
	Timestamp      time.Time                   `json:"timestamp"`
	CircuitStates  map[string]breaker.Snapshot `json:"circuitStates"`
	CacheStats     map[string]CacheStatus      `json:"cacheStats"`
	QueueStats     QueueStatus                 `json:"queueStats"`
	ActiveRequests int                         `json:"activeRequests"`
	Refreshing     int                         `json:"refreshing"`
	Runtime        RuntimeStatus               `json:"runtime"`
}

// CacheStatus 單個快取的狀態
type CacheStatus struct {
	Size    int                    `json:"size"`
	Metrics models.MetricsSnapshot `json:"metrics"`
}

// QueueStatus 支付隊列與分析事件緩衝的狀態
type QueueStatus struct {
	Payment          QueueStats `json:"payment"`
	AvgProcessingMs  int64      `json:"avgProcessingMs"`
	EstimatedWaitMs  int64      `json:"estimatedWaitMs"`
	Analytics        int        `json:"analytics"`
	AnalyticsFlushed int64      `json:"analyticsFlushed"`
	AnalyticsDropped int64      `json:"analyticsDropped"`
}

// RuntimeStatus 進程記憶體與 goroutine 數量
type RuntimeStatus struct {
	HeapAlloc  uint64 `json:"heapAlloc"`
	Sys        uint64 `json:"sys"`
	Goroutines int    `json:"goroutines"`
}

// Status 收集當前負載狀態
func (s *Surge) Status(ctx context.Context) LoadStatus {
	s.mu.Lock()
	breakers := make(map[string]breaker.Snapshot, len(s.breakers))
	for name, b := range s.breakers {
		breakers[name] = b.Snapshot()
	}
	caches := make(map[string]*TTLCache, len(s.caches))
	for name, c := range s.caches {
		caches[name] = c
	}
	refreshing := 0
	for _, g := range s.guards {
		refreshing += g.Refreshing()
	}
	s.mu.Unlock()

	cacheStats := make(map[string]CacheStatus, len(caches))
	for name, c := range caches {
		cacheStats[name] = CacheStatus{Size: c.Len(ctx), Metrics: c.Metrics()}
	}

	qs := s.queue.Stats()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return LoadStatus{
		Timestamp:     time.Now(),
		CircuitStates: breakers,
		CacheStats:    cacheStats,
		QueueStats: QueueStatus{
			Payment:          qs,
			AvgProcessingMs:  qs.AvgProcessing.Milliseconds(),
			EstimatedWaitMs:  s.queue.EstimatedWait().Milliseconds(),
			Analytics:        s.batcher.Len(),
			AnalyticsFlushed: s.batcher.Flushed(),
			AnalyticsDropped: s.batcher.Dropped(),
		},
		ActiveRequests: s.dedup.InFlight(),
		Refreshing:     refreshing,
		Runtime: RuntimeStatus{
			HeapAlloc:  mem.HeapAlloc,
			Sys:        mem.Sys,
			Goroutines: runtime.NumGoroutine(),
		},
	}
}

// BreakerNames 返回已註冊熔斷器的名稱，已排序
func (s *Surge) BreakerNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.breakers))
	for name := range s.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
