package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kurihiro0119/content-audit/internal/domain"
	apperrors "github.com/kurihiro0119/content-audit/internal/errors"
	"github.com/kurihiro0119/content-audit/internal/storage"
)

// maxUpdateAttempts bounds optimistic-lock retries when two writers race on one batch
const maxUpdateAttempts = 10

// redisStorage implements the BatchStore interface on Redis. Each batch is a JSON
// document; a sorted set keyed by creation time indexes them for listing.
type redisStorage struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStorage connects to Redis and verifies the connection
func NewRedisStorage(addr, prefix string) (storage.BatchStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, storage.Persistence("ping redis", err)
	}

	return &redisStorage{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *redisStorage) batchKey(id string) string {
	return s.prefix + "batch:" + id
}

func (s *redisStorage) indexKey() string {
	return s.prefix + "batches"
}

// Create writes the batch document and its index entry in one MULTI
func (s *redisStorage) Create(ctx context.Context, name string, items []domain.NewItem) (*domain.Batch, error) {
	batch, err := storage.NewBatchRecord(name, items, s.now())
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, apperrors.NewInternalError("encode batch", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.batchKey(batch.ID), payload, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(batch.CreatedAt.UnixNano()), Member: batch.ID})
		return nil
	})
	if err != nil {
		return nil, storage.Persistence("create batch", err)
	}
	return batch, nil
}

// Get reads the batch document
func (s *redisStorage) Get(ctx context.Context, id string) (*domain.Batch, error) {
	batch, err := s.read(ctx, s.client, id)
	if err != nil {
		return nil, storage.Persistence("get batch", err)
	}
	return batch, nil
}

// UpdateItem uses WATCH/MULTI so a concurrent writer to the same batch forces a retry
func (s *redisStorage) UpdateItem(ctx context.Context, batchID string, index int, update domain.ItemUpdate) (*domain.Batch, error) {
	key := s.batchKey(batchID)
	if update.At.IsZero() {
		update.At = s.now()
	}

	var updated *domain.Batch
	txf := func(tx *redis.Tx) error {
		batch, err := s.read(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if err := domain.ApplyItemUpdate(batch, index, update); err != nil {
			return err
		}
		payload, err := json.Marshal(batch)
		if err != nil {
			return apperrors.NewInternalError("encode batch", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err == nil {
			updated = batch
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, storage.Persistence("update batch item", err)
		}
		return updated, nil
	}
	return nil, apperrors.NewPersistenceError("update batch item", errors.New("too much contention on batch "+batchID))
}

// List returns the newest batches first
func (s *redisStorage) List(ctx context.Context, limit int) ([]*domain.Batch, error) {
	limit = storage.NormalizeLimit(limit)
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, storage.Persistence("list batches", err)
	}

	batches := make([]*domain.Batch, 0, len(ids))
	for _, id := range ids {
		batch, err := s.read(ctx, s.client, id)
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, storage.Persistence("load listed batch", err)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// Close closes the Redis client
func (s *redisStorage) Close() error {
	return s.client.Close()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *redisStorage) read(ctx context.Context, c getter, id string) (*domain.Batch, error) {
	val, err := c.Get(ctx, s.batchKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NewNotFoundError("batch " + id)
		}
		return nil, err
	}

	var batch domain.Batch
	if err := json.Unmarshal(val, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}
