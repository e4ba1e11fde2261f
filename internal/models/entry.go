package models

import (
	"time"
)

// Freshness 項目在某時刻的新鮮程度
type Freshness int

const (
	// Fresh 直接提供，無需重新驗證
	Fresh Freshness = iota
	// Stale 先提供舊值，同時在背景刷新
	Stale
	// Expired 視為未命中
	Expired
)

// Entry 代表一個快取項目，刷新時整體替換，存入後不再修改
type Entry struct {
	Key        string
	Value      any
	StoredAt   time.Time
	FreshUntil time.Time
	StaleUntil time.Time
}

// NewEntry 創建一個在 now 存入的 Entry
func NewEntry(key string, value any, now time.Time, freshTTL, staleWindow time.Duration) *Entry {
	freshUntil := now.Add(freshTTL)
	return &Entry{
		Key:        key,
		Value:      value,
		StoredAt:   now,
		FreshUntil: freshUntil,
		StaleUntil: freshUntil.Add(staleWindow),
	}
}

// FreshnessAt 返回項目在 now 時的新鮮程度
func (e *Entry) FreshnessAt(now time.Time) Freshness {
	switch {
	case now.Before(e.FreshUntil):
		return Fresh
	case now.Before(e.StaleUntil):
		return Stale
	default:
		return Expired
	}
}

// IsExpired 檢查項目是否已超過過期窗口
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.StaleUntil)
}
