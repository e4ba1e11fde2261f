package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"goflare.io/surge/internal/config"
	"goflare.io/surge/internal/retrier"
	"goflare.io/surge/pkg/serialization"
)

// fakeRedis implements the subset of redis.Cmdable used by RedisStore.
type fakeRedis struct {
	redis.Cmdable

	mu     sync.Mutex
	data   map[string]string
	gets   int
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Scan(_ context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (f *fakeRedis) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func newTestRedisStore(t *testing.T, client redis.Cmdable) *RedisStore {
	t.Helper()
	r, err := retrier.NewRetrier(2, time.Millisecond, time.Millisecond, 2, 0, retrier.ExponentialBackoff, nil)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewRedisStore(context.Background(), client, RedisStoreOptions{
		Prefix:  "surge:events:",
		Encoder: serialization.JSONEncoder,
		Decoder: serialization.JSONDecoder,
		Retrier: r,
		Logger:  zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRedisStoreThroughCache(t *testing.T) {
	client := newFakeRedis()
	clock := newFakeClock()
	c := New("events", config.CacheConfig{FreshTTL: time.Second, StaleWindow: 3 * time.Second},
		newTestRedisStore(t, client), zaptest.NewLogger(t), WithClock(clock.Now))
	ctx := context.Background()

	if err := c.Set(ctx, "list", "hackathon", 0); err != nil {
		t.Fatal(err)
	}
	if _, ok := client.data["surge:events:list"]; !ok {
		t.Fatalf("Actual: %v; Expected prefixed redis key", client.data)
	}

	got, ok := c.Get(ctx, "list")
	if !ok || got.Stale || got.Value != "hackathon" {
		t.Errorf("Actual: %+v %v; Expected fresh hackathon", got, ok)
	}
	if !got.StoredAt.Equal(clock.Now()) {
		t.Errorf("Actual: %v; Expected: %v", got.StoredAt, clock.Now())
	}

	clock.Advance(2 * time.Second)
	if got, ok := c.Get(ctx, "list"); !ok || !got.Stale {
		t.Errorf("Actual: %+v %v; Expected stale hit", got, ok)
	}
}

func TestRedisStoreBloomSkipsUnknownKeys(t *testing.T) {
	client := newFakeRedis()
	s := newTestRedisStore(t, client)
	before := client.getCount()

	if _, found, err := s.Get(context.Background(), "never-written"); found || err != nil {
		t.Errorf("Actual: %v, %v; Expected clean miss", found, err)
	}
	if client.getCount() != before {
		t.Errorf("Actual: %d; Expected no redis GET for a bloom negative", client.getCount()-before)
	}
}

func TestRedisStoreKeysClearAndFilterPersistence(t *testing.T) {
	client := newFakeRedis()
	s := newTestRedisStore(t, client)
	c := New("events", config.CacheConfig{FreshTTL: time.Minute}, s, zaptest.NewLogger(t))
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		if err := c.Set(ctx, k, k, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	keys, err := c.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Actual: %v; Expected [a b] without the filter key", keys)
	}

	reopened := newTestRedisStore(t, client)
	if _, found, err := reopened.Get(ctx, "a"); !found || err != nil {
		t.Errorf("Actual: %v, %v; Expected saved filter to admit a", found, err)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n := c.Len(ctx); n != 0 {
		t.Errorf("Actual: %d; Expected: %d", n, 0)
	}
}

func TestRedisStoreWriteFailure(t *testing.T) {
	client := newFakeRedis()
	s := newTestRedisStore(t, client)
	client.setErr = errors.New("connection refused")

	c := New("events", config.CacheConfig{FreshTTL: time.Minute}, s, zaptest.NewLogger(t))
	if err := c.Set(context.Background(), "k", 1, 0); err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Actual: %v; Expected write failure surfaced", err)
	}
}
