package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/regionkeeper/internal/logging"
	"github.com/dgraph-io/badger/v3"
)

const badgerKeyPrefix = "document:"

// BadgerBackend хранит документы во встроенной BadgerDB
type BadgerBackend struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerBackend открывает BadgerDB в каталоге path
func NewBadgerBackend(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	logging.Info("💾 BadgerDB открыта: %s", path)
	return &BadgerBackend{
		db:      db,
		dbPath:  path,
		isReady: true,
	}, nil
}

func (b *BadgerBackend) key(name string) []byte {
	return []byte(badgerKeyPrefix + name)
}

func (b *BadgerBackend) Load(ctx context.Context, name string) ([]byte, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if !b.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения документа %s: %w", name, err)
	}
	return data, nil
}

func (b *BadgerBackend) Store(ctx context.Context, name string, data []byte) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if !b.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key(name), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения документа %s: %w", name, err)
	}
	return nil
}

func (b *BadgerBackend) Delete(ctx context.Context, name string) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if !b.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.key(name))
	})
}

// Close закрывает базу
func (b *BadgerBackend) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.isReady {
		return nil
	}

	b.isReady = false
	return b.db.Close()
}
