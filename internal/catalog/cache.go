package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const itemCachePrefix = "catalog:item:"

// Cache keeps item snapshots in Redis. A nil Cache, or one without a client, always calls the
// loader. Concurrent misses for the same item share one load.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func itemKey(id int64) string {
	return itemCachePrefix + strconv.FormatInt(id, 10)
}

// Item returns the cached item or populates it using loader.
func (c *Cache) Item(ctx context.Context, id int64, loader func(context.Context) (Item, error)) (Item, error) {
	if loader == nil {
		return Item{}, errors.New("catalog: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := itemKey(id)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var item Item
		if err := json.Unmarshal(payload, &item); err == nil {
			return item, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		// redis unavailable: serve from the database
		return loader(ctx)
	}

	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		item, err := loader(ctx)
		if err != nil {
			return Item{}, err
		}
		if raw, err := json.Marshal(item); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return item, nil
	})
	select {
	case <-ctx.Done():
		return Item{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Item{}, res.Err
		}
		return res.Val.(Item), nil
	}
}

// Invalidate drops the cached snapshot of an item.
func (c *Cache) Invalidate(ctx context.Context, id int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, itemKey(id)).Err()
}
