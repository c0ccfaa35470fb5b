package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS catalog_document (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	document   TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

type sqliteCatalogStorage struct {
	logger *zap.Logger
	db     *sql.DB
}

// GetSQLiteClient opens the database file and applies the schema. Writable
// transactions start with BEGIN IMMEDIATE so concurrent writers queue up.
func GetSQLiteClient(config *Config) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(config.SQLite.FilePath), 0o700); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+config.SQLite.FilePath+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma journal_mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// NewSQLiteCatalogStorage provides an instance of sqlite-based catalog storage.
func NewSQLiteCatalogStorage(logger *zap.Logger, db *sql.DB) CatalogStorage {
	return &sqliteCatalogStorage{logger: logger, db: db}
}

// Close releases the database handle.
func (ss *sqliteCatalogStorage) Close() error {
	return ss.db.Close()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readDocument(ctx context.Context, q queryRower) ([]byte, error) {
	var document string
	err := q.QueryRowContext(ctx, `SELECT document FROM catalog_document WHERE id = 1`).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return []byte(document), nil
}

func writeDocument(ctx context.Context, tx *sql.Tx, data []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO catalog_document (id, document, updated_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			updated_at = CURRENT_TIMESTAMP
	`, string(data))
	if err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

// Load reads the catalog document.
func (ss *sqliteCatalogStorage) Load(ctx context.Context) (*Catalog, error) {
	data, err := readDocument(ctx, ss.db)
	if err != nil {
		return nil, err
	}
	return DecodeCatalog(data)
}

// Update runs the load-mutate-save cycle inside one sql transaction.
func (ss *sqliteCatalogStorage) Update(ctx context.Context, fn func(*Catalog) error) error {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	data, err := readDocument(ctx, tx)
	if err != nil {
		return err
	}
	catalog, err := DecodeCatalog(data)
	if err != nil {
		return err
	}
	if err = fn(catalog); err != nil {
		return err
	}
	if data, err = EncodeCatalog(catalog); err != nil {
		return err
	}
	if err = writeDocument(ctx, tx, data); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Save replaces the stored document.
func (ss *sqliteCatalogStorage) Save(ctx context.Context, catalog *Catalog) error {
	data, err := EncodeCatalog(catalog)
	if err != nil {
		return err
	}
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err = writeDocument(ctx, tx, data); err != nil {
		return err
	}
	return tx.Commit()
}
