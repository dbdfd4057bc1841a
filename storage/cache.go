package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"journal-api/domain"
)

// Cache wraps a task backend with Redis-backed caching of day lists.
// Cached lists live under a per-owner version; every mutation bumps the
// version so all of that owner's cached days go stale at once.
type Cache struct {
	base  domain.TaskStorage
	redis *redis.Client
	ttl   time.Duration
}

var _ domain.TaskStorage = (*Cache)(nil)

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base domain.TaskStorage, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, owner string, r domain.DayRange) ([]domain.Task, error) {
	version, ok := c.version(ctx, owner)
	if ok {
		if tasks, hit := c.load(ctx, tasksCacheKey(owner, version, r)); hit {
			return tasks, nil
		}
	}

	tasks, err := c.base.ListTasks(ctx, owner, r)
	if err != nil {
		return nil, err
	}
	if ok {
		c.store(ctx, tasksCacheKey(owner, version, r), tasks)
	}
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, owner, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, owner, id)
}

func (c *Cache) InsertTask(ctx context.Context, owner string, t domain.Task) error {
	if err := c.base.InsertTask(ctx, owner, t); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, owner, id string, patch domain.TaskPatch) error {
	if err := c.base.UpdateTask(ctx, owner, id, patch); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, owner, id string) error {
	if err := c.base.DeleteTask(ctx, owner, id); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

func (c *Cache) version(ctx context.Context, owner string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	v, err := c.redis.Get(ctx, versionKey(owner)).Int64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *Cache) load(ctx context.Context, key string) ([]domain.Task, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, key string, tasks []domain.Task) {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, owner string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, versionKey(owner)).Err()
}

func versionKey(owner string) string {
	return "tasks-version:" + owner
}

func tasksCacheKey(owner string, version int64, r domain.DayRange) string {
	return fmt.Sprintf("tasks:%s:v%d:%s", owner, version, r.Key())
}
