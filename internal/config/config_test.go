package config

import (
	"errors"
	"testing"
	"time"

	"goflare.io/surge/pkg/serialization"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.Backend != BackendMemory || cfg.Cache.FreshTTL != 10*time.Second {
		t.Errorf("Actual: %+v; Expected memory backend with 10s TTL", cfg.Cache)
	}
	if cfg.Queue.MaxConcurrency != 20 || cfg.Queue.MaxRetries != 3 {
		t.Errorf("Actual: %+v; Expected 20 workers and 3 retries", cfg.Queue)
	}
	if cfg.Batch.MaxBatchSize != 100 || cfg.Batch.FlushInterval != 5*time.Second {
		t.Errorf("Actual: %+v; Expected 100 events every 5s", cfg.Batch)
	}
	if cfg.Serialization.Type != serialization.JSONType {
		t.Errorf("Actual: %s; Expected: %s", cfg.Serialization.Type, serialization.JSONType)
	}
}

func TestWithEachBreakerKeepsOtherFields(t *testing.T) {
	cfg, err := NewConfig(WithEachBreaker(func(bc *BreakerConfig) {
		bc.ResetTimeout = 5 * time.Second
	}))
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"payments", "analytics", "eventList"} {
		if bc := cfg.BreakerFor(name); bc.ResetTimeout != 5*time.Second {
			t.Errorf("%s Actual: %v; Expected: %v", name, bc.ResetTimeout, 5*time.Second)
		}
	}
	if bc := cfg.BreakerFor("payments"); bc.FailureThreshold != 3 || bc.SlowCallThreshold != 2*time.Second {
		t.Errorf("Actual: %+v; Expected payments threshold and slow-call kept", bc)
	}
	if bc := cfg.BreakerFor("analytics"); bc.HalfOpenTrialCount != 2 {
		t.Errorf("Actual: %+v; Expected analytics trial count kept", bc)
	}
}

func TestBreakerFor(t *testing.T) {
	cfg, err := NewConfig(WithNamedBreaker("search", BreakerConfig{
		FailureThreshold:         2,
		ResetTimeout:             time.Second,
		HalfOpenTrialCount:       1,
		HalfOpenSuccessThreshold: 1,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if bc := cfg.BreakerFor("payments"); bc.FailureThreshold != 3 || bc.ResetTimeout != time.Minute || bc.SlowCallThreshold != 2*time.Second {
		t.Errorf("Actual: %+v; Expected payments override", bc)
	}
	if bc := cfg.BreakerFor("search"); bc.FailureThreshold != 2 {
		t.Errorf("Actual: %+v; Expected search override", bc)
	}
	if bc := cfg.BreakerFor("unknown"); bc != DefaultBreaker() {
		t.Errorf("Actual: %+v; Expected default breaker", bc)
	}
}

func TestStaleFor(t *testing.T) {
	cc := CacheConfig{StaleMultiplier: 3}
	if d := cc.StaleFor(10 * time.Second); d != 30*time.Second {
		t.Errorf("Actual: %v; Expected: %v", d, 30*time.Second)
	}
	cc.StaleWindow = 5 * time.Second
	if d := cc.StaleFor(10 * time.Second); d != 5*time.Second {
		t.Errorf("Actual: %v; Expected: %v", d, 5*time.Second)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		opt  Option
		want error
	}{
		{"fresh ttl", WithCache(CacheConfig{Backend: BackendMemory}), ErrInvalidFreshTTL},
		{"negative stale", WithCache(CacheConfig{Backend: BackendMemory, FreshTTL: time.Second, StaleWindow: -1}), ErrInvalidStaleWindow},
		{"backend", WithCache(CacheConfig{Backend: "disk", FreshTTL: time.Second}), ErrInvalidBackend},
		{"redis addr", WithCache(CacheConfig{Backend: BackendRedis, FreshTTL: time.Second}), ErrMissingRedisAddr},
		{"threshold", WithBreaker(BreakerConfig{ResetTimeout: time.Second, HalfOpenTrialCount: 1, HalfOpenSuccessThreshold: 1}), ErrInvalidThreshold},
		{"reset", WithBreaker(BreakerConfig{FailureThreshold: 1, HalfOpenTrialCount: 1, HalfOpenSuccessThreshold: 1}), ErrInvalidResetTimeout},
		{"half open", WithNamedBreaker("x", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second}), ErrInvalidHalfOpen},
		{"concurrency", WithQueue(QueueConfig{}), ErrInvalidConcurrency},
		{"retries", WithQueue(QueueConfig{MaxConcurrency: 1, MaxRetries: -1}), ErrInvalidRetries},
		{"batch", WithBatch(BatchConfig{}), ErrInvalidBatchSize},
		{"serializer", WithSerialization("xml"), ErrUnsupportedSerializer},
	}
	for _, tc := range cases {
		if _, err := NewConfig(tc.opt); !errors.Is(err, tc.want) {
			t.Errorf("%s Actual: %v; Expected: %v", tc.name, err, tc.want)
		}
	}
}
