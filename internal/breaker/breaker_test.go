package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"goflare.io/surge/internal/config"
)

var errUpstream = errors.New("upstream failure")

type counter struct {
	calls int
}

func (c *counter) fail(context.Context) (any, error) {
	c.calls++
	return nil, errUpstream
}

func (c *counter) succeed(context.Context) (any, error) {
	c.calls++
	return "primary", nil
}

func (c *counter) fallback(context.Context) (any, error) {
	c.calls++
	return "fallback", nil
}

func newTestBreaker(t *testing.T, cfg config.BreakerConfig) *Breaker {
	t.Helper()
	b, err := New("test", cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func testConfig() config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold:         5,
		RollingWindow:            30 * time.Second,
		ResetTimeout:             time.Minute,
		HalfOpenTrialCount:       1,
		HalfOpenSuccessThreshold: 1,
	}
}

func TestOpensOnThreshold(t *testing.T) {
	b := newTestBreaker(t, testConfig())
	ctx := context.Background()
	primary := &counter{}

	for i := 0; i < 5; i++ {
		if _, err := b.Execute(ctx, primary.fail, nil); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d Actual: %v; Expected: %v", i, err, errUpstream)
		}
	}
	if actual := b.State(); actual != StateOpen {
		t.Fatalf("Actual: %v; Expected: %v", actual, StateOpen)
	}

	fallback := &counter{}
	v, err := b.Execute(ctx, primary.fail, fallback.fallback)
	if err != nil || v != "fallback" {
		t.Errorf("Actual: %v, %v; Expected: fallback, nil", v, err)
	}
	if primary.calls != 5 {
		t.Errorf("primary Actual: %d; Expected: %d", primary.calls, 5)
	}
	if fallback.calls != 1 {
		t.Errorf("fallback Actual: %d; Expected: %d", fallback.calls, 1)
	}

	if _, err := b.Execute(ctx, primary.fail, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Actual: %v; Expected: %v", err, ErrCircuitOpen)
	}
	if primary.calls != 5 {
		t.Errorf("primary Actual: %d; Expected: %d", primary.calls, 5)
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 2
	cfg.ResetTimeout = 50 * time.Millisecond
	cfg.HalfOpenTrialCount = 2
	cfg.HalfOpenSuccessThreshold = 2
	b := newTestBreaker(t, cfg)
	ctx := context.Background()
	primary := &counter{}

	for i := 0; i < 2; i++ {
		_, _ = b.Execute(ctx, primary.fail, nil)
	}
	if actual := b.State(); actual != StateOpen {
		t.Fatalf("Actual: %v; Expected: %v", actual, StateOpen)
	}

	time.Sleep(80 * time.Millisecond)

	v, err := b.Execute(ctx, primary.succeed, nil)
	if err != nil || v != "primary" {
		t.Fatalf("Actual: %v, %v; Expected: primary, nil", v, err)
	}
	if actual := b.State(); actual != StateHalfOpen {
		t.Fatalf("after one trial Actual: %v; Expected: %v", actual, StateHalfOpen)
	}

	if _, err := b.Execute(ctx, primary.succeed, nil); err != nil {
		t.Fatal(err)
	}
	if actual := b.State(); actual != StateClosed {
		t.Fatalf("Actual: %v; Expected: %v", actual, StateClosed)
	}
	if c := b.Counts(); c.TotalFailures != 0 || c.ConsecutiveFailures != 0 {
		t.Errorf("Actual: %+v; Expected zeroed counts", c)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cfg.ResetTimeout = 50 * time.Millisecond
	b := newTestBreaker(t, cfg)
	ctx := context.Background()
	primary := &counter{}

	_, _ = b.Execute(ctx, primary.fail, nil)
	time.Sleep(80 * time.Millisecond)

	if _, err := b.Execute(ctx, primary.fail, nil); !errors.Is(err, errUpstream) {
		t.Fatalf("Actual: %v; Expected trial to reach primary", err)
	}
	if primary.calls != 2 {
		t.Errorf("Actual: %d; Expected: %d", primary.calls, 2)
	}
	if actual := b.State(); actual != StateOpen {
		t.Errorf("Actual: %v; Expected: %v", actual, StateOpen)
	}
	if _, err := b.Execute(ctx, primary.succeed, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Actual: %v; Expected: %v", err, ErrCircuitOpen)
	}
}

func TestHalfOpenClosesOnSuccessThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cfg.ResetTimeout = 30 * time.Millisecond
	cfg.HalfOpenTrialCount = 3
	cfg.HalfOpenSuccessThreshold = 1
	b := newTestBreaker(t, cfg)
	ctx := context.Background()
	primary := &counter{}

	_, _ = b.Execute(ctx, primary.fail, nil)
	time.Sleep(60 * time.Millisecond)

	if _, err := b.Execute(ctx, primary.succeed, nil); err != nil {
		t.Fatal(err)
	}
	if actual := b.State(); actual != StateClosed {
		t.Errorf("Actual: %v; Expected: %v", actual, StateClosed)
	}
}

func TestHalfOpenLimitsTrialCalls(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cfg.ResetTimeout = 30 * time.Millisecond
	cfg.HalfOpenTrialCount = 1
	cfg.HalfOpenSuccessThreshold = 2
	b := newTestBreaker(t, cfg)
	ctx := context.Background()
	primary := &counter{}

	_, _ = b.Execute(ctx, primary.fail, nil)
	time.Sleep(60 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := b.Execute(ctx, func(context.Context) (any, error) {
			close(started)
			<-release
			return "primary", nil
		}, nil)
		done <- err
	}()
	<-started

	if _, err := b.Execute(ctx, primary.succeed, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second trial Actual: %v; Expected: %v", err, ErrCircuitOpen)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if actual := b.State(); actual != StateHalfOpen {
		t.Fatalf("after one success Actual: %v; Expected: %v", actual, StateHalfOpen)
	}

	if _, err := b.Execute(ctx, primary.succeed, nil); err != nil {
		t.Fatal(err)
	}
	if actual := b.State(); actual != StateClosed {
		t.Errorf("Actual: %v; Expected: %v", actual, StateClosed)
	}
}

func TestFallbackOnPrimaryErrorWhileClosed(t *testing.T) {
	b := newTestBreaker(t, testConfig())
	primary, fallback := &counter{}, &counter{}

	v, err := b.Execute(context.Background(), primary.fail, fallback.fallback)
	if err != nil || v != "fallback" {
		t.Errorf("Actual: %v, %v; Expected: fallback, nil", v, err)
	}
	if actual := b.State(); actual != StateClosed {
		t.Errorf("Actual: %v; Expected: %v", actual, StateClosed)
	}
	if c := b.Counts(); c.TotalFailures != 1 {
		t.Errorf("Actual: %d; Expected: %d", c.TotalFailures, 1)
	}
}

func TestFallbackFailureJoinsErrors(t *testing.T) {
	b := newTestBreaker(t, testConfig())
	fbErr := errors.New("no stale data")
	_, err := b.Execute(context.Background(), (&counter{}).fail, func(context.Context) (any, error) {
		return nil, fbErr
	})
	if !errors.Is(err, errUpstream) || !errors.Is(err, fbErr) {
		t.Errorf("Actual: %v; Expected both causes", err)
	}
}

func TestSlowCallsCountAsFailures(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 2
	cfg.SlowCallThreshold = 5 * time.Millisecond
	b := newTestBreaker(t, cfg)

	slow := func(context.Context) (any, error) {
		time.Sleep(15 * time.Millisecond)
		return "slow", nil
	}
	for i := 0; i < 2; i++ {
		v, err := b.Execute(context.Background(), slow, nil)
		if err != nil || v != "slow" {
			t.Fatalf("Actual: %v, %v; Expected slow value delivered", v, err)
		}
	}
	if actual := b.State(); actual != StateOpen {
		t.Errorf("Actual: %v; Expected: %v", actual, StateOpen)
	}
}

func TestCancellationIsNotAFailure(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	b := newTestBreaker(t, cfg)

	_, err := b.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, context.Canceled
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Actual: %v; Expected: %v", err, context.Canceled)
	}
	if actual := b.State(); actual != StateClosed {
		t.Errorf("Actual: %v; Expected: %v", actual, StateClosed)
	}
}

func TestResetAndSnapshot(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	b := newTestBreaker(t, cfg)

	_, _ = b.Execute(context.Background(), (&counter{}).fail, nil)
	snap := b.Snapshot()
	if snap.State != "open" || snap.Name != "test" || snap.LastFailure.IsZero() {
		t.Errorf("Actual: %+v; Expected open snapshot with last failure", snap)
	}

	b.Reset()
	if actual := b.State(); actual != StateClosed {
		t.Errorf("Actual: %v; Expected: %v", actual, StateClosed)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New("bad", config.BreakerConfig{}, nil); !errors.Is(err, config.ErrInvalidThreshold) {
		t.Errorf("Actual: %v; Expected: %v", err, config.ErrInvalidThreshold)
	}
}
