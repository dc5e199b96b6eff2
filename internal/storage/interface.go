package storage

import (
	"context"

	"github.com/kurihiro0119/content-audit/internal/domain"
)

// DefaultListLimit is used when List is called with a non-positive limit
const DefaultListLimit = 50

// BatchStore is the abstract interface for the persistence layer.
// It is the single source of truth for batch state.
type BatchStore interface {
	// Create validates and persists a new batch with every item pending
	Create(ctx context.Context, name string, items []domain.NewItem) (*domain.Batch, error)

	// Get returns a copy of the batch
	Get(ctx context.Context, id string) (*domain.Batch, error)

	// UpdateItem atomically mutates one item and recomputes the aggregate status.
	// Writes to the same batch are serialized; distinct batches proceed independently.
	UpdateItem(ctx context.Context, batchID string, index int, update domain.ItemUpdate) (*domain.Batch, error)

	// List returns the most recently created batches, newest first
	List(ctx context.Context, limit int) ([]*domain.Batch, error)

	// Connection management
	Close() error
}
