package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"journal-api/domain"
)

type stubBackend struct {
	listFn   func(ctx context.Context, owner string, r domain.DayRange) ([]domain.Task, error)
	updateFn func(ctx context.Context, owner, id string, p domain.TaskPatch) error
	inserts  int
	deletes  int
}

func (s *stubBackend) ListTasks(ctx context.Context, owner string, r domain.DayRange) ([]domain.Task, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listFn(ctx, owner, r)
}

func (s *stubBackend) GetTask(ctx context.Context, owner, id string) (domain.Task, error) {
	return domain.Task{}, domain.ErrNotFound
}

func (s *stubBackend) InsertTask(ctx context.Context, owner string, t domain.Task) error {
	s.inserts++
	return nil
}

func (s *stubBackend) UpdateTask(ctx context.Context, owner, id string, p domain.TaskPatch) error {
	if s.updateFn == nil {
		return errors.New("unexpected UpdateTask call")
	}
	return s.updateFn(ctx, owner, id, p)
}

func (s *stubBackend) DeleteTask(ctx context.Context, owner, id string) error {
	s.deletes++
	return nil
}

func startRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

var cacheDay = domain.RangeForDay(time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC), time.UTC)

func TestCacheListTasksMissThenHit(t *testing.T) {
	mr, client := startRedis(t)
	ctx := context.Background()
	expected := []domain.Task{{ID: "t1", Title: "Write code", CreatedAt: cacheDay.Start.Add(time.Hour)}}

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, owner string, r domain.DayRange) ([]domain.Task, error) {
			calls++
			if owner != "user-1" {
				t.Fatalf("unexpected owner: %s", owner)
			}
			return append([]domain.Task(nil), expected...), nil
		},
	}, client, time.Minute)

	tasks, err := cache.ListTasks(ctx, "user-1", cacheDay)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	key := tasksCacheKey("user-1", 0, cacheDay)
	if key != "tasks:user-1:v0:2024-06-20" {
		t.Fatalf("unexpected cache key %q", key)
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.ListTasks(ctx, "user-1", cacheDay)
	if err != nil {
		t.Fatalf("list cached tasks: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != "t1" || !cached[0].CreatedAt.Equal(expected[0].CreatedAt) {
		t.Fatalf("unexpected cached tasks: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached list to avoid backend, calls=%d", calls)
	}
}

func TestCacheMutationInvalidatesOwner(t *testing.T) {
	_, client := startRedis(t)
	ctx := context.Background()

	var calls int
	backend := &stubBackend{
		listFn: func(ctx context.Context, owner string, r domain.DayRange) ([]domain.Task, error) {
			calls++
			return []domain.Task{}, nil
		},
		updateFn: func(ctx context.Context, owner, id string, p domain.TaskPatch) error { return nil },
	}
	cache := NewCache(backend, client, time.Minute)

	mutations := map[string]func() error{
		"insert": func() error { return cache.InsertTask(ctx, "u", domain.Task{ID: "x"}) },
		"update": func() error { return cache.UpdateTask(ctx, "u", "x", domain.TaskPatch{Resolved: domain.BoolPtr(true)}) },
		"delete": func() error { return cache.DeleteTask(ctx, "u", "x") },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			if _, err := cache.ListTasks(ctx, "u", cacheDay); err != nil {
				t.Fatalf("warm: %v", err)
			}
			before := calls
			if _, err := cache.ListTasks(ctx, "u", cacheDay); err != nil {
				t.Fatalf("hit: %v", err)
			}
			if calls != before {
				t.Fatalf("expected cache hit before mutation")
			}
			if err := mutate(); err != nil {
				t.Fatalf("mutate: %v", err)
			}
			if _, err := cache.ListTasks(ctx, "u", cacheDay); err != nil {
				t.Fatalf("after mutation: %v", err)
			}
			if calls != before+1 {
				t.Fatalf("expected backend call after %s, calls=%d before=%d", name, calls, before)
			}
		})
	}
}

func TestCacheOtherOwnersUnaffected(t *testing.T) {
	_, client := startRedis(t)
	ctx := context.Background()

	calls := map[string]int{}
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, owner string, r domain.DayRange) ([]domain.Task, error) {
			calls[owner]++
			return []domain.Task{}, nil
		},
	}, client, time.Minute)

	_, _ = cache.ListTasks(ctx, "a", cacheDay)
	_, _ = cache.ListTasks(ctx, "b", cacheDay)
	if err := cache.InsertTask(ctx, "a", domain.Task{ID: "x"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, _ = cache.ListTasks(ctx, "a", cacheDay)
	_, _ = cache.ListTasks(ctx, "b", cacheDay)
	if calls["a"] != 2 || calls["b"] != 1 {
		t.Fatalf("unexpected backend calls: %v", calls)
	}
}

func TestCacheFallsBackWhenRedisDown(t *testing.T) {
	mr, client := startRedis(t)
	ctx := context.Background()

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, owner string, r domain.DayRange) ([]domain.Task, error) {
			calls++
			return []domain.Task{{ID: "t1"}}, nil
		},
	}, client, time.Minute)

	mr.Close()
	tasks, err := cache.ListTasks(ctx, "u", cacheDay)
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if len(tasks) != 1 || calls != 1 {
		t.Fatalf("unexpected result tasks=%v calls=%d", tasks, calls)
	}
	if err := cache.InsertTask(ctx, "u", domain.Task{ID: "t2"}); err != nil {
		t.Fatalf("insert must not fail on redis errors: %v", err)
	}
}

func TestCacheCorruptEntryIsDropped(t *testing.T) {
	mr, client := startRedis(t)
	ctx := context.Background()

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, owner string, r domain.DayRange) ([]domain.Task, error) {
			calls++
			return []domain.Task{}, nil
		},
	}, client, time.Minute)

	key := tasksCacheKey("u", 0, cacheDay)
	if err := mr.Set(key, "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := cache.ListTasks(ctx, "u", cacheDay); err != nil {
		t.Fatalf("list: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected backend call, got %d", calls)
	}
	if got, _ := mr.Get(key); got == "not json" {
		t.Fatalf("corrupt entry must be replaced")
	}
}

func TestCacheZeroTTLDisablesCaching(t *testing.T) {
	_, client := startRedis(t)
	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(ctx context.Context, owner string, r domain.DayRange) ([]domain.Task, error) {
			calls++
			return []domain.Task{}, nil
		},
	}, client, 0)

	for i := 0; i < 2; i++ {
		if _, err := cache.ListTasks(context.Background(), "u", cacheDay); err != nil {
			t.Fatalf("list: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every call to reach backend, got %d", calls)
	}
}
