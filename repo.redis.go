package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultRedisCatalogKey string = "library:catalog"

type redisCatalogStorage struct {
	logger *zap.Logger
	client *redis.Client
	key    string
}

// NewRedisCatalogStorage provides an instance of redis-based catalog storage.
func NewRedisCatalogStorage(logger *zap.Logger, client *redis.Client, key string) CatalogStorage {
	if key == "" {
		key = DefaultRedisCatalogKey
	}
	return &redisCatalogStorage{
		logger: logger,
		client: client,
		key:    key,
	}
}

// GetRedisClient provides a ready to use redis client.
func GetRedisClient(config *Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", config.Redis.Host, config.Redis.Port),
		DialTimeout:  config.Redis.DialTimeout,
		ReadTimeout:  config.Redis.ReadTimeout,
		WriteTimeout: config.Redis.WriteTimeout,
		PoolSize:     config.Redis.PoolSize,
		PoolTimeout:  config.Redis.PoolTimeout,
		Password:     config.Redis.Password,
		Username:     config.Redis.Username,
		DB:           config.Redis.DatabaseIndex,
	})

	// test connection.
	if pong, err := client.Ping(context.Background()).Result(); pong != "PONG" || err != nil {
		return client, fmt.Errorf("test connection failed: %v", err)
	}
	return client, nil
}

// Close releases the underlying redis client.
func (rs *redisCatalogStorage) Close() error {
	return rs.client.Close()
}

// Load reads the catalog document.
func (rs *redisCatalogStorage) Load(ctx context.Context) (*Catalog, error) {
	data, err := rs.client.Get(ctx, rs.key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return DecodeCatalog(data)
}

// Update runs the load-mutate-save cycle as an optimistic transaction. If
// another writer touches the document in between, the write is aborted.
func (rs *redisCatalogStorage) Update(ctx context.Context, fn func(*Catalog) error) error {
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, rs.key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		catalog, err := DecodeCatalog(data)
		if err != nil {
			return err
		}
		if err = fn(catalog); err != nil {
			return err
		}
		out, err := EncodeCatalog(catalog)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rs.key, out, 0)
			return nil
		})
		return err
	}

	err := rs.client.Watch(ctx, txf, rs.key)
	if errors.Is(err, redis.TxFailedErr) {
		rs.logger.Warn("redis: catalog modified concurrently", zap.String("redis.key", rs.key))
		return fmt.Errorf("catalog modified concurrently: %w", err)
	}
	return err
}

// Save replaces the stored document.
func (rs *redisCatalogStorage) Save(ctx context.Context, catalog *Catalog) error {
	out, err := EncodeCatalog(catalog)
	if err != nil {
		return err
	}
	return rs.client.Set(ctx, rs.key, out, 0).Err()
}
