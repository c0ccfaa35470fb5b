package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type Consumer interface {
	Consume(ctx context.Context, qids ...string) error
}

// mirrorConsumer replays catalog snapshots into a secondary storage.
// Snapshots replace the whole mirrored document, so returned loans
// disappear from the mirror too.
type mirrorConsumer struct {
	logger *zap.Logger
	queue  Queuer
	mirror CatalogStorage
}

func NewMirrorConsumer(logger *zap.Logger, q Queuer, mirror CatalogStorage) Consumer {
	return &mirrorConsumer{logger, q, mirror}
}

func (mc *mirrorConsumer) Consume(ctx context.Context, qids ...string) error {
	for {
		qid, catalog, err := mc.queue.Pop(ctx, qids...)
		if err != nil && ctx.Err() != nil {
			mc.logger.Info("consumer: queue pop call: context is done: exit", zap.String("reason", ctx.Err().Error()))
			return nil
		}

		if errors.Is(err, ErrEmptyQueue) {
			continue
		}

		if err != nil {
			mc.logger.Error("consumer: error on queue pop call", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		switch qid {
		case SnapshotQueue:
			if err = mc.mirror.Save(ctx, catalog); err != nil {
				mc.logger.Error("consumer: failed to save snapshot", zap.Int("books", len(catalog.Books)), zap.Error(err))
			}
		default:
			mc.logger.Warn("consumer: received snapshot on unknown queue id", zap.String("qid", qid))
		}
	}
}
