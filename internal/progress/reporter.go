package progress

import (
	"context"
	"math"

	"github.com/kurihiro0119/content-audit/internal/domain"
	"github.com/kurihiro0119/content-audit/internal/storage"
)

// Reporter defines the read-only progress view over stored batches
type Reporter interface {
	// Status returns the summary of one batch
	Status(ctx context.Context, batchID string) (*domain.BatchSummary, error)

	// List returns summaries of the most recent batches
	List(ctx context.Context, limit int) ([]*domain.BatchSummary, error)
}

// reporter implements the Reporter interface
type reporter struct {
	store storage.BatchStore
}

// NewReporter creates a new reporter
func NewReporter(store storage.BatchStore) Reporter {
	return &reporter{store: store}
}

// Status returns the summary of one batch. Unknown ids are reported as NOT_FOUND.
func (r *reporter) Status(ctx context.Context, batchID string) (*domain.BatchSummary, error) {
	batch, err := r.store.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return Summarize(batch), nil
}

// List returns summaries of the most recent batches, newest first
func (r *reporter) List(ctx context.Context, limit int) ([]*domain.BatchSummary, error) {
	batches, err := r.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	summaries := make([]*domain.BatchSummary, 0, len(batches))
	for _, batch := range batches {
		summaries = append(summaries, Summarize(batch))
	}
	return summaries, nil
}

// Summarize projects a batch into its summary
func Summarize(batch *domain.Batch) *domain.BatchSummary {
	summary := &domain.BatchSummary{
		ID:          batch.ID,
		Name:        batch.Name,
		Status:      domain.AggregateStatus(batch.Items),
		TotalItems:  len(batch.Items),
		Items:       make([]domain.BatchItem, 0, len(batch.Items)),
		CreatedAt:   batch.CreatedAt,
		CompletedAt: batch.CompletedAt,
	}

	scoreSum := 0
	for _, item := range batch.Items {
		summary.Items = append(summary.Items, item.Clone())

		switch item.Status {
		case domain.ItemStatusCompleted:
			summary.SucceededItems++
			if item.OverallScore != nil {
				scoreSum += *item.OverallScore
			}
		case domain.ItemStatusFailed:
			summary.FailedItems++
		case domain.ItemStatusCancelled:
			summary.CancelledItems++
		case domain.ItemStatusPending:
			summary.PendingItems++
		}
	}
	summary.CompletedItems = summary.SucceededItems + summary.FailedItems + summary.CancelledItems

	if summary.TotalItems > 0 {
		summary.PercentComplete = roundTenth(float64(summary.CompletedItems) * 100 / float64(summary.TotalItems))
	}
	if summary.SucceededItems > 0 {
		avg := roundTenth(float64(scoreSum) / float64(summary.SucceededItems))
		summary.AverageScore = &avg
	}

	return summary
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
