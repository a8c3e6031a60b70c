package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	goneEndpointPrefix = "push:endpoint:gone:"
	processedPrefix    = "push:request:processed:"
)

// RedisRepository caches gone endpoints and processed request ids.
type RedisRepository struct {
	client         *redis.Client
	suppressionTTL time.Duration
	idempotencyTTL time.Duration
}

func NewRedisRepository(client *redis.Client, suppressionTTL, idempotencyTTL time.Duration) *RedisRepository {
	if suppressionTTL <= 0 {
		suppressionTTL = 7 * 24 * time.Hour
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &RedisRepository{
		client:         client,
		suppressionTTL: suppressionTTL,
		idempotencyTTL: idempotencyTTL,
	}
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// IsEndpointSuppressed reports whether the endpoint was recently reported gone.
func (r *RedisRepository) IsEndpointSuppressed(ctx context.Context, endpoint string) (bool, error) {
	exists, err := r.client.Exists(ctx, endpointKey(endpoint)).Result()
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

func (r *RedisRepository) SuppressEndpoint(ctx context.Context, endpoint string) error {
	return r.client.SetEX(ctx, endpointKey(endpoint), "1", r.suppressionTTL).Err()
}

func (r *RedisRepository) IsProcessed(ctx context.Context, requestID string) (bool, error) {
	exists, err := r.client.Exists(ctx, processedPrefix+requestID).Result()
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

func (r *RedisRepository) MarkProcessed(ctx context.Context, requestID string) error {
	return r.client.SetNX(ctx, processedPrefix+requestID, "1", r.idempotencyTTL).Err()
}

// endpointKey hashes the endpoint; raw endpoints are long and carry the channel id.
func endpointKey(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return goneEndpointPrefix + hex.EncodeToString(sum[:])
}
