package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kurihiro0119/content-audit/internal/domain"
	apperrors "github.com/kurihiro0119/content-audit/internal/errors"
	"github.com/kurihiro0119/content-audit/internal/storage"
)

type record struct {
	mu    sync.RWMutex
	batch *domain.Batch
}

// memoryStorage implements the BatchStore interface in process memory.
// The top-level lock only guards the map; each batch has its own lock.
type memoryStorage struct {
	mu      sync.RWMutex
	batches map[string]*record
	now     func() time.Time
}

// NewMemoryStorage creates a new in-memory storage instance
func NewMemoryStorage() storage.BatchStore {
	return &memoryStorage{
		batches: make(map[string]*record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new batch
func (s *memoryStorage) Create(ctx context.Context, name string, items []domain.NewItem) (*domain.Batch, error) {
	batch, err := storage.NewBatchRecord(name, items, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.batches[batch.ID] = &record{batch: batch}
	s.mu.Unlock()

	return batch.Clone(), nil
}

// Get returns a copy of the batch
func (s *memoryStorage) Get(ctx context.Context, id string) (*domain.Batch, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return nil, apperrors.NewNotFoundError("batch " + id)
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.batch.Clone(), nil
}

// UpdateItem applies the update to a scratch copy and swaps it in, so readers
// never see a half-applied item
func (s *memoryStorage) UpdateItem(ctx context.Context, batchID string, index int, update domain.ItemUpdate) (*domain.Batch, error) {
	rec, ok := s.lookup(batchID)
	if !ok {
		return nil, apperrors.NewNotFoundError("batch " + batchID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	next := rec.batch.Clone()
	if update.At.IsZero() {
		update.At = s.now()
	}
	if err := domain.ApplyItemUpdate(next, index, update); err != nil {
		return nil, err
	}
	rec.batch = next
	return next.Clone(), nil
}

// List returns the newest batches first
func (s *memoryStorage) List(ctx context.Context, limit int) ([]*domain.Batch, error) {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.batches))
	for _, rec := range s.batches {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	batches := make([]*domain.Batch, 0, len(recs))
	for _, rec := range recs {
		rec.mu.RLock()
		batches = append(batches, rec.batch.Clone())
		rec.mu.RUnlock()
	}

	sort.SliceStable(batches, func(i, j int) bool {
		if batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].ID > batches[j].ID
		}
		return batches[i].CreatedAt.After(batches[j].CreatedAt)
	})

	limit = storage.NormalizeLimit(limit)
	if len(batches) > limit {
		batches = batches[:limit]
	}
	return batches, nil
}

// Close is a no-op for the memory backend
func (s *memoryStorage) Close() error {
	return nil
}

func (s *memoryStorage) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.batches[id]
	return rec, ok
}
