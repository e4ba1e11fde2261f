package surge

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestSurge(t *testing.T, process Processor, opts ...Option) *Surge {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s, err := New(context.Background(), process, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func charge(_ context.Context, payload any) (any, error) {
	return map[string]any{"charged": payload}, nil
}

func TestNewRegistersDefaults(t *testing.T) {
	s := newTestSurge(t, charge)

	names := s.BreakerNames()
	if len(names) != 3 || names[0] != BreakerAnalytics || names[1] != BreakerEventList || names[2] != BreakerPayments {
		t.Errorf("Actual: %v; Expected the three default breakers", names)
	}

	st := s.Status(context.Background())
	for _, name := range []string{CacheEvents, CacheAnalytics, CacheSchedules, CacheRegistrations} {
		if _, ok := st.CacheStats[name]; !ok {
			t.Errorf("Expected cache %s in status", name)
		}
	}
	if st.CircuitStates[BreakerPayments].State != "closed" {
		t.Errorf("Actual: %+v; Expected closed payments breaker", st.CircuitStates[BreakerPayments])
	}
	if st.QueueStats.Payment.Workers != 20 {
		t.Errorf("Actual: %d; Expected: %d", st.QueueStats.Payment.Workers, 20)
	}
}

func TestGuardIsSharedAndCaches(t *testing.T) {
	s := newTestSurge(t, charge)
	ctx := context.Background()

	g1, err := s.Guard(CacheEvents, BreakerEventList)
	if err != nil {
		t.Fatal(err)
	}
	g2, _ := s.Guard(CacheEvents, BreakerEventList)
	if g1 != g2 {
		t.Error("Expected the same guard for the same cache and breaker")
	}

	calls := 0
	fetch := func(context.Context) (any, error) {
		calls++
		return []string{"hackathon"}, nil
	}
	for i := 0; i < 3; i++ {
		if _, err := g1.Load(ctx, "events:list", 0, fetch, nil); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("Actual: %d; Expected: %d", calls, 1)
	}

	c, _ := s.Cache(CacheEvents)
	if m := c.Metrics(); m.Hits != 2 || m.Sets != 1 {
		t.Errorf("Actual: %+v; Expected 2 hits and 1 set", m)
	}
}

func TestPaymentFlow(t *testing.T) {
	s := newTestSurge(t, charge)

	receipt, err := s.Enqueue("pay_1", 499)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.TaskID != "pay_1" {
		t.Errorf("Actual: %s; Expected: %s", receipt.TaskID, "pay_1")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := s.TaskStatus("pay_1")
		if err != nil {
			t.Fatal(err)
		}
		if task.Status == "completed" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("payment did not complete")
}

func TestOpenPaymentsBreakerRetriesTask(t *testing.T) {
	fail := func(context.Context, any) (any, error) { return nil, errors.New("gateway down") }
	s := newTestSurge(t, fail,
		WithNamedBreaker(BreakerPayments, BreakerConfig{
			FailureThreshold:         1,
			RollingWindow:            time.Minute,
			ResetTimeout:             time.Minute,
			HalfOpenTrialCount:       1,
			HalfOpenSuccessThreshold: 1,
		}),
		WithQueue(QueueConfig{MaxConcurrency: 1, MaxRetries: 2}))

	if _, err := s.Enqueue("pay_2", 1); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var task Task
	for time.Now().Before(deadline) {
		task, _ = s.TaskStatus("pay_2")
		if task.Status == "failed" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if task.Status != "failed" || task.Retries != 2 {
		t.Fatalf("Actual: %+v; Expected failed after 2 retries", task)
	}
	b, _ := s.Breaker(BreakerPayments)
	if b.Snapshot().State != "open" {
		t.Errorf("Actual: %s; Expected open", b.Snapshot().State)
	}
}

func TestNewValidation(t *testing.T) {
	logger := WithLogger(zaptest.NewLogger(t))
	if _, err := New(context.Background(), charge, logger, WithCache(CacheConfig{Backend: BackendRedis, FreshTTL: time.Second})); !errors.Is(err, ErrMissingRedisAddr) {
		t.Errorf("Actual: %v; Expected: %v", err, ErrMissingRedisAddr)
	}
	if _, err := New(context.Background(), charge, logger, WithQueue(QueueConfig{})); !errors.Is(err, ErrInvalidConcurrency) {
		t.Errorf("Actual: %v; Expected: %v", err, ErrInvalidConcurrency)
	}
	if _, err := New(context.Background(), nil, logger); err == nil {
		t.Error("Expected error for missing processor")
	}
	if _, err := New(context.Background(), charge, logger, WithSerialization("xml")); err == nil {
		t.Error("Expected error for unknown serializer")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := New(context.Background(), charge, WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatal(err)
	}
	s.Track(Event{Type: "page_view"})
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("Actual: %v; Expected nil", err)
	}
	if _, err := s.Enqueue("late", nil); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Actual: %v; Expected: %v", err, ErrQueueClosed)
	}
}
