package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

// boltCatalogKey is the key under which the whole document is stored.
var boltCatalogKey = []byte("document")

type boltCatalogStorage struct {
	logger *zap.Logger
	client *bolt.DB
	config *BoltDBConfig
}

// GetBoltDBClient setup the database and the bucket then provides a ready to use client.
func GetBoltDBClient(config *Config) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(config.BoltDB.FilePath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create the database folder, %v", err)
	}
	db, err := bolt.Open(config.BoltDB.FilePath, 0o600, &bolt.Options{Timeout: config.BoltDB.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open the database, %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, errB := tx.CreateBucketIfNotExists([]byte(config.BoltDB.BucketName)); errB != nil {
			return fmt.Errorf("failed to create %s bucket: %v", config.BoltDB.BucketName, errB)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set up bucket: %v", err)
	}
	return db, nil
}

// NewBoltCatalogStorage provides an instance of bolt-based catalog storage.
func NewBoltCatalogStorage(logger *zap.Logger, boltConfig *BoltDBConfig, client *bolt.DB) CatalogStorage {
	return &boltCatalogStorage{
		logger: logger,
		client: client,
		config: boltConfig,
	}
}

// Close shuts down the bolt-based catalog storage.
func (bs *boltCatalogStorage) Close() error {
	return bs.client.Close()
}

// Load reads the catalog document from a read-only transaction.
func (bs *boltCatalogStorage) Load(_ context.Context) (*Catalog, error) {
	tx, err := bs.client.Begin(false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	return DecodeCatalog(tx.Bucket([]byte(bs.config.BucketName)).Get(boltCatalogKey))
}

// Update runs the load-mutate-save cycle inside a single writable transaction.
// Bolt allows one writer at a time so the cycle is isolated.
func (bs *boltCatalogStorage) Update(_ context.Context, fn func(*Catalog) error) error {
	return bs.client.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bs.config.BucketName))
		catalog, err := DecodeCatalog(bucket.Get(boltCatalogKey))
		if err != nil {
			return err
		}
		if err = fn(catalog); err != nil {
			return err
		}
		data, err := EncodeCatalog(catalog)
		if err != nil {
			return err
		}
		return bucket.Put(boltCatalogKey, data)
	})
}

// Save replaces the stored document.
func (bs *boltCatalogStorage) Save(_ context.Context, catalog *Catalog) error {
	data, err := EncodeCatalog(catalog)
	if err != nil {
		return err
	}
	return bs.client.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bs.config.BucketName)).Put(boltCatalogKey, data)
	})
}
