package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MariaBackend хранит документы в таблице region_documents MariaDB/MySQL.
type MariaBackend struct {
	db *sql.DB
}

// NewMariaBackend подключается к базе и создаёт таблицу, если она не существует.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaBackend(ctx context.Context, dsn string) (*MariaBackend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	backend := &MariaBackend{db: db}
	if err := backend.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}

	return backend, nil
}

// createTable создает таблицу region_documents, если она не существует.
func (b *MariaBackend) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS region_documents (
			name       VARCHAR(191) PRIMARY KEY,
			body       MEDIUMBLOB   NOT NULL,
			updated_at TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE    CURRENT_TIMESTAMP
		) ENGINE=InnoDB
	`

	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания таблицы region_documents: %w", err)
	}
	return nil
}

func (b *MariaBackend) Load(ctx context.Context, name string) ([]byte, error) {
	var body []byte
	err := b.db.QueryRowContext(ctx, `SELECT body FROM region_documents WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения документа %s: %w", name, err)
	}
	return body, nil
}

// Store использует INSERT ... ON DUPLICATE KEY UPDATE для замены существующего документа.
func (b *MariaBackend) Store(ctx context.Context, name string, data []byte) error {
	query := `
		INSERT INTO region_documents (name, body) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE body = VALUES(body)
	`
	if _, err := b.db.ExecContext(ctx, query, name, data); err != nil {
		return fmt.Errorf("ошибка сохранения документа %s: %w", name, err)
	}
	return nil
}

func (b *MariaBackend) Delete(ctx context.Context, name string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM region_documents WHERE name = ?`, name); err != nil {
		return fmt.Errorf("ошибка удаления документа %s: %w", name, err)
	}
	return nil
}

func (b *MariaBackend) Close() error {
	return b.db.Close()
}
