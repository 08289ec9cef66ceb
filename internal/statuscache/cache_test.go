package statuscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestCache_WritesHashAndStream(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	client := &stubRedisClient{pipe: pipe}
	cache := New(client, "order_status_events", 0, 0)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := cache.SetStatus(context.Background(), "order-1", "PAID", at); err != nil {
		t.Fatalf("set status: %v", err)
	}

	if len(pipe.hsets) != 1 {
		t.Fatalf("expected 1 HSET, got %d", len(pipe.hsets))
	}
	if pipe.hsets[0].key != "order:order-1" {
		t.Fatalf("unexpected hash key %q", pipe.hsets[0].key)
	}

	hash := toMap(pipe.hsets[0].values)
	if hash["order_id"] != "order-1" || hash["status"] != "PAID" {
		t.Fatalf("unexpected hash values: %+v", hash)
	}

	if len(pipe.xadds) != 1 {
		t.Fatalf("expected 1 XADD, got %d", len(pipe.xadds))
	}
	if pipe.xadds[0].Stream != "order_status_events" {
		t.Fatalf("unexpected stream %q", pipe.xadds[0].Stream)
	}

	if !pipe.execCalled {
		t.Fatalf("expected Exec to be called")
	}
}

func TestCache_TTLMaxLenAndDefaultStream(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	client := &stubRedisClient{pipe: pipe}
	cache := New(client, "", time.Minute, 100)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := cache.SetStatus(context.Background(), "order-1", "PENDING", at); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := cache.SetStatus(context.Background(), "order-1", "PAID", at.Add(time.Second)); err != nil {
		t.Fatalf("set status: %v", err)
	}

	if pipe.expirationCalls != 2 {
		t.Fatalf("expected expiration to be set twice (once per SetStatus)")
	}
	if pipe.expirations["order:order-1"] != time.Minute {
		t.Fatalf("unexpected ttl: %v", pipe.expirations["order:order-1"])
	}

	if len(pipe.xadds) != 2 {
		t.Fatalf("expected 2 XADDs, got %d", len(pipe.xadds))
	}
	for _, xa := range pipe.xadds {
		if xa.Stream != "order_status_events" {
			t.Fatalf("expected default stream, got %q", xa.Stream)
		}
		if xa.MaxLen != 100 || !xa.Approx {
			t.Fatalf("expected maxlen settings applied, got %+v", xa)
		}
	}
}

func TestCache_RespectsCanceledContext(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	client := &stubRedisClient{pipe: pipe}
	cache := New(client, "order_status_events", 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cache.SetStatus(ctx, "order-1", "PAID", time.Now())
	if err == nil {
		t.Fatalf("expected context error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if pipe.execCalled || len(pipe.hsets) > 0 || len(pipe.xadds) > 0 {
		t.Fatalf("expected no writes when context canceled")
	}
}

type stubRedisClient struct {
	pipe *stubPipeline
}

func (s *stubRedisClient) Pipeline() RedisPipeliner { return s.pipe }

type stubPipeline struct {
	hsets []struct {
		key    string
		values []any
	}
	expirations     map[string]time.Duration
	expirationCalls int
	xadds           []redis.XAddArgs
	execCalled      bool
	execErr         error
}

func (s *stubPipeline) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	s.hsets = append(s.hsets, struct {
		key    string
		values []any
	}{key: key, values: values})
	return redis.NewIntCmd(context.Background())
}

func (s *stubPipeline) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	if s.expirations == nil {
		s.expirations = map[string]time.Duration{}
	}
	s.expirations[key] = ttl
	s.expirationCalls++
	return redis.NewBoolCmd(context.Background())
}

func (s *stubPipeline) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	s.xadds = append(s.xadds, *a)
	return redis.NewStringCmd(context.Background())
}

func (s *stubPipeline) Exec(_ context.Context) ([]redis.Cmder, error) {
	s.execCalled = true
	return nil, s.execErr
}

func toMap(args []any) map[string]any {
	if len(args) == 0 {
		return map[string]any{}
	}
	if m, ok := args[0].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
