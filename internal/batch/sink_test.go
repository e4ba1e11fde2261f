package batch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

type fakeLists struct {
	redis.Cmdable
	lists map[string][]string
	err   error
}

func (f *fakeLists) RPush(_ context.Context, key string, values ...any) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	for _, v := range values {
		f.lists[key] = append(f.lists[key], string(v.([]byte)))
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func TestRedisSinkPushesJSON(t *testing.T) {
	client := &fakeLists{lists: make(map[string][]string)}
	sink := NewRedisSink(client, "surge:analytics")

	err := sink.Write(context.Background(), []Event{
		{Type: "page_view", UserID: "u1"},
		{Type: "purchase", UserID: "u2", EventID: "e9"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := client.lists["surge:analytics"]
	if len(got) != 2 {
		t.Fatalf("Actual: %d; Expected: %d", len(got), 2)
	}
	var e Event
	if err := json.Unmarshal([]byte(got[1]), &e); err != nil {
		t.Fatal(err)
	}
	if e.Type != "purchase" || e.EventID != "e9" {
		t.Errorf("Actual: %+v; Expected purchase e9", e)
	}
}

func TestRedisSinkWrapsErrors(t *testing.T) {
	cause := errors.New("READONLY")
	sink := NewRedisSink(&fakeLists{err: cause}, "k")
	if err := sink.Write(context.Background(), []Event{{Type: "x"}}); !errors.Is(err, cause) {
		t.Errorf("Actual: %v; Expected wrapping %v", err, cause)
	}
}
