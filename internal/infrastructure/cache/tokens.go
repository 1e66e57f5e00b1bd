package cache

import (
	"context"
	"errors"
	"time"

	"coursemarket/internal/domain"

	"github.com/redis/go-redis/v9"
)

const refreshTTL = 7 * 24 * time.Hour

type TokenCache struct {
	client *redis.Client
}

func NewTokenCache(client *redis.Client) *TokenCache {
	return &TokenCache{client: client}
}

func (c *TokenCache) SaveRefresh(ctx context.Context, userID string, refreshToken string) error {
	return c.client.Set(ctx, "refresh_token:"+refreshToken, userID, refreshTTL).Err()
}

// CheckRefresh возвращает владельца токена; отозванный или истекший токен - ErrUnauthorized.
func (c *TokenCache) CheckRefresh(ctx context.Context, refreshToken string) (string, error) {
	val, err := c.client.Get(ctx, "refresh_token:"+refreshToken).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrUnauthorized
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// ConsumeRefresh атомарно забирает токен: повторная ротация тем же токеном не пройдет.
func (c *TokenCache) ConsumeRefresh(ctx context.Context, refreshToken string) (string, error) {
	val, err := c.client.GetDel(ctx, "refresh_token:"+refreshToken).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrUnauthorized
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (c *TokenCache) DeleteRefresh(ctx context.Context, refreshToken string) error {
	return c.client.Del(ctx, "refresh_token:"+refreshToken).Err()
}
