package retrier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	minMaxAttempts = 1
	minBaseDelay   = time.Millisecond
	minFactor      = 1.0
	maxJitter      = 1.0
)

// ExponentialBackoff 間隔按指數增長
// LinearBackoff 間隔線性增長
// FibonacciBackoff 間隔按斐波那契數列增長
const (
	ExponentialBackoff BackoffStrategy = iota
	LinearBackoff
	FibonacciBackoff
)

var (
	// ErrInvalidMaxAttempts 最大嘗試次數無效
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	// ErrInvalidBaseDelay 基礎延遲無效
	ErrInvalidBaseDelay = errors.New("base delay must be at least 1ms")
	// ErrInvalidFactor 倍數無效
	ErrInvalidFactor = errors.New("factor must be at least 1.0")
	// ErrInvalidJitter 抖動係數無效
	ErrInvalidJitter = errors.New("jitter must be between 0 and 1")
)

// BackoffStrategy 定義重試間隔的計算策略
type BackoffStrategy int

// Retrier 按指定的退避策略重試執行函數
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	factor      float64
	jitter      float64
	strategy    BackoffStrategy

	fibMu          sync.Mutex
	fibonacciCache []time.Duration

	TempErrorFunc func(error) bool // 自定義的暫時性錯誤判斷
}

// NewRetrier 創建一個新的 Retrier 實例
// 參數：
// - maxAttempts: Run 的最大嘗試次數
// - baseDelay: 重試之間的基礎延遲
// - maxDelay: 重試之間的最大延遲
// - factor: 指數退避的倍數
// - jitter: 隨機抖動係數，避免重試風暴
// - strategy: 退避策略（ExponentialBackoff、LinearBackoff 或 FibonacciBackoff）
// - tempErrorFunc: 判斷錯誤是否值得重試，默認為 Retryable
func NewRetrier(maxAttempts int, baseDelay, maxDelay time.Duration, factor, jitter float64, strategy BackoffStrategy, tempErrorFunc func(error) bool) (*Retrier, error) {
	if maxAttempts < minMaxAttempts {
		return nil, ErrInvalidMaxAttempts
	}
	if baseDelay < minBaseDelay {
		return nil, ErrInvalidBaseDelay
	}
	if factor < minFactor {
		return nil, ErrInvalidFactor
	}
	if jitter < 0 || jitter > maxJitter {
		return nil, ErrInvalidJitter
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	if tempErrorFunc == nil {
		tempErrorFunc = Retryable
	}

	return &Retrier{
		maxAttempts:    maxAttempts,
		baseDelay:      baseDelay,
		maxDelay:       maxDelay,
		factor:         factor,
		jitter:         jitter,
		strategy:       strategy,
		fibonacciCache: []time.Duration{baseDelay, baseDelay},
		TempErrorFunc:  tempErrorFunc,
	}, nil
}

// MaxAttempts 返回 Run 放棄前的嘗試次數
func (r *Retrier) MaxAttempts() int {
	return r.maxAttempts
}

// Run 按 Retrier 的配置重試執行 fn
func (r *Retrier) Run(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !r.TempErrorFunc(err) {
			return err
		}

		if attempt == r.maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.Delay(attempt)):
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// Delay 計算第 attempt+1 次重試前的等待時間，attempt 從 0 開始
func (r *Retrier) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	var delay float64
	switch r.strategy {
	case LinearBackoff:
		delay = float64(r.baseDelay) * float64(attempt+1)
	case FibonacciBackoff:
		delay = float64(r.getFibonacciDelay(attempt))
	default:
		delay = float64(r.baseDelay) * math.Pow(r.factor, float64(attempt))
	}

	if delay > float64(r.maxDelay) {
		delay = float64(r.maxDelay)
	}

	delay += rand.Float64() * r.jitter * delay
	if delay < 0 {
		delay = 0
	}
	if delay > float64(time.Hour) {
		delay = float64(time.Hour)
	}
	return time.Duration(delay)
}

// getFibonacciDelay 按斐波那契數列計算延遲
func (r *Retrier) getFibonacciDelay(attempt int) time.Duration {
	r.fibMu.Lock()
	defer r.fibMu.Unlock()

	for len(r.fibonacciCache) <= attempt {
		next := r.fibonacciCache[len(r.fibonacciCache)-1] + r.fibonacciCache[len(r.fibonacciCache)-2]
		if next > r.maxDelay {
			next = r.maxDelay
		}
		r.fibonacciCache = append(r.fibonacciCache, next)
	}
	return r.fibonacciCache[attempt]
}
