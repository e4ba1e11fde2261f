// Package breaker 為失敗中的依賴提供熔斷保護，並在恢復期間提供降級結果。
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/surge/internal/config"
)

// ErrCircuitOpen 熔斷器拒絕呼叫且未提供降級函數時返回
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrSlowCall 呼叫成功但耗時超過慢請求閾值時記錄為失敗
var ErrSlowCall = errors.New("call exceeded slow-call threshold")

// Func 受保護的呼叫或其降級函數
type Func func(ctx context.Context) (any, error)

// State 熔斷器狀態
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Snapshot 用於狀態報告的熔斷器快照
type Snapshot struct {
	Name                 string    `json:"name"`
	State                string    `json:"state"`
	Requests             uint32    `json:"requests"`
	TotalFailures        uint32    `json:"totalFailures"`
	ConsecutiveFailures  uint32    `json:"consecutiveFailures"`
	ConsecutiveSuccesses uint32    `json:"consecutiveSuccesses"`
	LastFailure          time.Time `json:"lastFailure,omitempty"`
}

// Breaker 三態熔斷器。狀態轉換由 gobreaker 在每次呼叫前後於其互斥鎖內完成，
// 半開狀態的試探併發數則由 trials 控制。
type Breaker struct {
	name     string
	cfg      config.BreakerConfig
	cb       atomic.Pointer[gobreaker.CircuitBreaker]
	settings gobreaker.Settings
	lastFail atomic.Time
	trials   atomic.Int64
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New 創建一個具名的 Breaker
func New(name string, cfg config.BreakerConfig, logger *zap.Logger) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid breaker %s: %w", name, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		name:   name,
		cfg:    cfg,
		tracer: otel.Tracer("breaker"),
		logger: logger.With(zap.String("breaker", name)),
	}

	threshold := cfg.FailureThreshold
	b.settings = gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenSuccessThreshold, // 連續成功達此數即關閉
		Interval:    cfg.RollingWindow,            // 固定窗口，到期整批清零
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= threshold
		},
		OnStateChange: b.onStateChange,
		IsSuccessful:  b.isSuccessful,
	}
	b.cb.Store(gobreaker.NewCircuitBreaker(b.settings))
	return b, nil
}

func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	switch to {
	case gobreaker.StateOpen:
		b.logger.Warn("Circuit breaker opened", zap.Stringer("from", from))
	case gobreaker.StateHalfOpen:
		b.logger.Info("Circuit breaker half-open", zap.Stringer("from", from))
	default:
		b.logger.Info("Circuit breaker closed", zap.Stringer("from", from))
	}
}

// isSuccessful 判斷結果是否計為依賴失敗，呼叫方自行取消不算
func (b *Breaker) isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	b.lastFail.Store(time.Now())
	return false
}

// Name 返回熔斷器名稱
func (b *Breaker) Name() string {
	return b.name
}

// Execute 經由熔斷器執行 primary。fallback 非 nil 時，熔斷拒絕或 primary 失敗
// 都由它提供結果；否則拒絕返回 ErrCircuitOpen，失敗返回 primary 的錯誤。
func (b *Breaker) Execute(ctx context.Context, primary, fallback Func) (any, error) {
	ctx, span := b.tracer.Start(ctx, "Breaker.Execute", trace.WithAttributes(attribute.String("breaker", b.name)))
	defer span.End()

	v, err := b.execute(ctx, primary)

	if errors.Is(err, ErrSlowCall) {
		// 值仍然有效，慢請求只需讓熔斷器計數
		if sr, ok := v.(slowResult); ok {
			return sr.value, nil
		}
	}

	if err == nil {
		return v, nil
	}

	rejected := errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
	span.SetAttributes(attribute.Bool("rejected", rejected))

	if fallback == nil {
		span.SetStatus(codes.Error, err.Error())
		if rejected {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
		}
		return nil, err
	}

	span.SetAttributes(attribute.Bool("fallback", true))
	fv, ferr := fallback(ctx)
	if ferr != nil {
		span.SetStatus(codes.Error, ferr.Error())
		if rejected {
			err = fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
		}
		return nil, errors.Join(err, fmt.Errorf("fallback failed: %w", ferr))
	}
	return fv, nil
}

type slowResult struct {
	value any
}

// execute 在半開狀態下先取得試探名額，再交給 gobreaker。
func (b *Breaker) execute(ctx context.Context, primary Func) (any, error) {
	cb := b.cb.Load()
	if cb.State() == gobreaker.StateHalfOpen {
		if b.trials.Inc() > int64(b.cfg.HalfOpenTrialCount) {
			b.trials.Dec()
			return nil, gobreaker.ErrTooManyRequests
		}
		defer b.trials.Dec()
	}

	return cb.Execute(func() (any, error) {
		start := time.Now()
		v, err := primary(ctx)
		if err == nil && b.cfg.SlowCallThreshold > 0 {
			if elapsed := time.Since(start); elapsed > b.cfg.SlowCallThreshold {
				b.logger.Warn("Slow call counted as failure", zap.Duration("elapsed", elapsed))
				return slowResult{value: v}, ErrSlowCall
			}
		}
		return v, err
	})
}

// State 返回當前狀態，重置超時已過時由 OPEN 轉為 HALF_OPEN
func (b *Breaker) State() State {
	return b.cb.Load().State()
}

// Counts 返回當前世代的計數
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Load().Counts()
}

// Snapshot 返回熔斷器名稱、狀態與計數
func (b *Breaker) Snapshot() Snapshot {
	cb := b.cb.Load()
	counts := cb.Counts()
	return Snapshot{
		Name:                 b.name,
		State:                cb.State().String(),
		Requests:             counts.Requests,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		LastFailure:          b.lastFail.Load(),
	}
}

// Reset 強制關閉熔斷器並清空計數
func (b *Breaker) Reset() {
	b.cb.Store(gobreaker.NewCircuitBreaker(b.settings))
	b.lastFail.Store(time.Time{})
	b.logger.Info("Circuit breaker reset")
}
