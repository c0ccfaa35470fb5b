package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SnapshotQueue carries full catalog snapshots to the mirror consumer.
	SnapshotQueue = "library:catalog:snapshots"

	// popTimeout bounds each blocking pop so consumers notice cancellation.
	popTimeout = 5 * time.Second
)

// ErrEmptyQueue is returned by Pop when nothing arrived before the timeout.
var ErrEmptyQueue = errors.New("queue is empty")

// Ensure *redisQueue implements Queuer.
var _ Queuer = (*redisQueue)(nil)

// Queuer describes a queue of catalog snapshots.
type Queuer interface {
	Push(ctx context.Context, qid string, catalog *Catalog) error
	Pop(ctx context.Context, qids ...string) (string, *Catalog, error)
}

// redisQueue represents a queue which implements the Queuer interface.
type redisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) Queuer {
	return &redisQueue{client: client}
}

// Push enqueues a catalog snapshot onto the queue identified by qid.
func (q *redisQueue) Push(ctx context.Context, qid string, catalog *Catalog) error {
	catalogBytes, err := json.Marshal(catalog)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, qid, catalogBytes).Err()
}

// Pop waits for a snapshot on one of the queue ids.
func (q *redisQueue) Pop(ctx context.Context, qids ...string) (string, *Catalog, error) {
	var qid string
	infos, err := q.client.BLPop(ctx, popTimeout, qids...).Result()
	if errors.Is(err, redis.Nil) {
		return qid, nil, ErrEmptyQueue
	}
	if err != nil {
		return qid, nil, err
	}

	catalog, err := DecodeCatalog([]byte(infos[1]))
	if err != nil {
		return qid, nil, err
	}
	qid = infos[0]
	return qid, catalog, nil
}
