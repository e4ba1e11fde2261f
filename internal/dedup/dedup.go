// Package dedup 將併發的相同請求合併為一次執行。
package dedup

import (
	"context"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

// Func 共享的工作單元，其 context 不受單個呼叫方取消的影響
type Func func(ctx context.Context) (any, error)

// Deduplicator 每個鍵同一時間最多執行一個 Func，執行期間到達的呼叫方共享其結果。
// 呼叫結束後無論成敗都立即釋放該鍵。
type Deduplicator struct {
	sf       singleflight.Group
	inFlight atomic.Int64
}

// New 創建一個 Deduplicator
func New() *Deduplicator {
	return &Deduplicator{}
}

// Do 為 key 執行 fn，若已有同鍵呼叫在執行則等待其結果。shared 表示結果是否
// 分給了多個呼叫方。ctx 先結束時返回 ctx.Err()，呼叫仍為其他等待者繼續執行。
func (d *Deduplicator) Do(ctx context.Context, key string, fn Func) (v any, err error, shared bool) {
	detached := context.WithoutCancel(ctx)
	ch := d.sf.DoChan(key, func() (any, error) {
		d.inFlight.Inc()
		defer d.inFlight.Dec()
		return fn(detached)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err, res.Shared
	case <-ctx.Done():
		return nil, ctx.Err(), false
	}
}

// Forget 釋放 key，即使呼叫仍在執行，下一次 Do 也會重新開始
func (d *Deduplicator) Forget(key string) {
	d.sf.Forget(key)
}

// InFlight 返回正在執行的呼叫數量
func (d *Deduplicator) InFlight() int {
	return int(d.inFlight.Load())
}
