package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"servhub/internal/config"
	"servhub/internal/models"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound means the profile does not exist at the collaborator. Distinct
// from a fetch failure: callers degrade the same way but must not retry.
var ErrNotFound = errors.New("profile not found")

const cacheKeyPrefix = "profile:"

// RedisProfileCache keeps profiles in Redis with a TTL. Entries are scoped to
// a session key so Clear can drop one provider's cache without touching
// others.
type RedisProfileCache struct {
	client  *redis.Client
	session string
	ttl     time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisProfileCache(client *redis.Client, session string, ttl time.Duration) *RedisProfileCache {
	return &RedisProfileCache{client: client, session: session, ttl: ttl}
}

func (r *RedisProfileCache) key(id string) string {
	return fmt.Sprintf("%s%s:%s", cacheKeyPrefix, r.session, id)
}

func (r *RedisProfileCache) Get(ctx context.Context, id string) (*models.Profile, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile from redis: %w", err)
	}

	var profile models.Profile
	if err := json.Unmarshal([]byte(val), &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &profile, nil
}

func (r *RedisProfileCache) Set(ctx context.Context, profile *models.Profile) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := r.client.Set(ctx, r.key(profile.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set profile in redis: %w", err)
	}
	return nil
}

func (r *RedisProfileCache) Clear(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	pattern := fmt.Sprintf("%s%s:*", cacheKeyPrefix, r.session)
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan profile keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear profile cache: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
