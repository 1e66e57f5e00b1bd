package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	listTTL   = 10 * time.Minute
	detailTTL = time.Hour

	listPrefix   = "courses:list:"
	detailPrefix = "course:detail:"
)

// CatalogCache хранит ответы каталога в redis в виде JSON.
// Ошибки redis не фатальны: промах кеша просто уводит запрос в БД.
type CatalogCache struct {
	client *redis.Client
}

func NewCatalogCache(client *redis.Client) *CatalogCache {
	return &CatalogCache{client: client}
}

func ListKey(search, category, level, instructor string, limit, offset int) string {
	return fmt.Sprintf("%s%s:%s:%s:%s:%d:%d", listPrefix, search, category, level, instructor, limit, offset)
}

func DetailKey(slug string) string {
	return detailPrefix + slug
}

// Get читает ключ в dst. false - промах (нет ключа, битый JSON или redis недоступен).
func (c *CatalogCache) Get(ctx context.Context, key string, dst interface{}) bool {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, dst) == nil
}

func (c *CatalogCache) SetList(ctx context.Context, key string, v interface{}) error {
	return c.set(ctx, key, v, listTTL)
}

func (c *CatalogCache) SetDetail(ctx context.Context, slug string, v interface{}) error {
	return c.set(ctx, DetailKey(slug), v, detailTTL)
}

func (c *CatalogCache) set(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Invalidate удаляет карточку курса и все закешированные списки.
func (c *CatalogCache) Invalidate(ctx context.Context, slug string) error {
	var errs []error
	if slug != "" {
		if err := c.client.Del(ctx, DetailKey(slug)).Err(); err != nil {
			errs = append(errs, err)
		}
	}

	iter := c.client.Scan(ctx, 0, listPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := iter.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
