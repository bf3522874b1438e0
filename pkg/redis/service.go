package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type KeyType string

const (
	// CALL_TTS_BINDING caches the per-call TTS configuration looked up from
	// the call registry, so the greeting path does not block on Postgres.
	CALL_TTS_BINDING KeyType = "astra_call_tts_binding"
)

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var ErrKeyNotExist = redis.Nil

type RedisService struct {
	client *redis.Client
}

func NewRedisService(config *RedisConfig) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisService{
		client: client,
	}, nil
}

// GenerateKey generates a Redis key with the given key type and identifier.
func (r *RedisService) GenerateKey(keyType KeyType, identifier string) string {
	return fmt.Sprintf("%s:%s", string(keyType), identifier)
}

// GetValue gets a value from Redis by key.
func (r *RedisService) GetValue(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", err
	}
	return val, nil
}

// SetValue sets a value in Redis with TTL.
func (r *RedisService) SetValue(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// DelValue deletes a value from Redis by key.
func (r *RedisService) DelValue(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisService) Close() error {
	return r.client.Close()
}
