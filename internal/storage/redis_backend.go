package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string // Адрес Redis сервера
	Password  string // Пароль (пустой если не требуется)
	DB        int    // Номер базы данных
	KeyPrefix string // Префикс для ключей
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "regions:",
	}
}

// RedisBackend хранит документы в Redis строковыми ключами
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisBackend подключается к Redis и проверяет соединение
func NewRedisBackend(ctx context.Context, config *RedisConfig) (*RedisBackend, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBackend{
		client:    client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

func (b *RedisBackend) key(name string) string {
	return b.keyPrefix + "document:" + name
}

func (b *RedisBackend) Load(ctx context.Context, name string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения документа %s из Redis: %w", name, err)
	}
	return data, nil
}

func (b *RedisBackend) Store(ctx context.Context, name string, data []byte) error {
	if err := b.client.Set(ctx, b.key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("ошибка сохранения документа %s в Redis: %w", name, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, name string) error {
	return b.client.Del(ctx, b.key(name)).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
