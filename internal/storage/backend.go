package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/annel0/regionkeeper/internal/config"
)

// ErrNotFound - документ отсутствует в хранилище
var ErrNotFound = errors.New("документ не найден")

// Backend определяет интерфейс постоянного хранения сериализованных документов.
// Документ адресуется именем и хранится целиком.
type Backend interface {
	// Load возвращает содержимое документа или ErrNotFound
	Load(ctx context.Context, name string) ([]byte, error)

	// Store сохраняет документ целиком, заменяя предыдущее содержимое
	Store(ctx context.Context, name string, data []byte) error

	// Delete удаляет документ; отсутствие документа ошибкой не считается
	Delete(ctx context.Context, name string) error

	// Close освобождает ресурсы
	Close() error
}

// OpenBackend создаёт бэкенд по конфигурации
func OpenBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return NewMemoryBackend(), nil
	case "file", "":
		return NewFileBackend(cfg.Path)
	case "badger":
		return NewBadgerBackend(filepath.Join(cfg.Path, "badger"))
	case "redis":
		return NewRedisBackend(ctx, &RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	case "mysql":
		return NewMariaBackend(ctx, cfg.MySQLDSN)
	case "mongo":
		return NewMongoBackend(ctx, MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
	}
	return nil, fmt.Errorf("неизвестный драйвер хранилища: %q", cfg.Driver)
}
