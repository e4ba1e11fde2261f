package models

import "go.uber.org/atomic"

// Metrics 存儲快取統計數據
type Metrics struct {
	Hits      *atomic.Int64
	StaleHits *atomic.Int64
	Misses    *atomic.Int64
	Sets      *atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		Hits:      atomic.NewInt64(0),
		StaleHits: atomic.NewInt64(0),
		Misses:    atomic.NewInt64(0),
		Sets:      atomic.NewInt64(0),
	}
}

// MetricsSnapshot Metrics 在某時刻的副本
type MetricsSnapshot struct {
	Hits      int64 `json:"hits"`
	StaleHits int64 `json:"staleHits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
}

// Snapshot 複製當前計數
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:      m.Hits.Load(),
		StaleHits: m.StaleHits.Load(),
		Misses:    m.Misses.Load(),
		Sets:      m.Sets.Load(),
	}
}
