package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus is the aggregate status of a batch, derived from its items
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
)

// DefaultNameLayout is the timestamp layout used for generated batch names
const DefaultNameLayout = "2006-01-02 15:04:05"

// Batch represents a named, ordered collection of content items audited together
type Batch struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Items       []BatchItem `json:"items"`
	Status      BatchStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// NewItem is one entry of a batch creation request
type NewItem struct {
	URLOrText     string `json:"url_or_text"`
	TargetKeyword string `json:"target_keyword,omitempty"`
}

// DefaultBatchName returns the name given to batches created without one
func DefaultBatchName(now time.Time) string {
	return "Batch Analysis " + now.Format(DefaultNameLayout)
}

// ValidateNewItems checks a creation request before anything is persisted
func ValidateNewItems(items []NewItem) error {
	if len(items) == 0 {
		return fmt.Errorf("batch must contain at least one item")
	}
	for i, item := range items {
		if strings.TrimSpace(item.URLOrText) == "" {
			return fmt.Errorf("item %d: url_or_text must not be blank", i)
		}
	}
	return nil
}

// NewBatch builds a fresh batch with every item pending. Items must already be validated.
func NewBatch(id, name string, items []NewItem, now time.Time) *Batch {
	if strings.TrimSpace(name) == "" {
		name = DefaultBatchName(now)
	}

	batch := &Batch{
		ID:        id,
		Name:      strings.TrimSpace(name),
		Items:     make([]BatchItem, len(items)),
		Status:    BatchStatusRunning,
		CreatedAt: now,
	}
	for i, item := range items {
		batch.Items[i] = BatchItem{
			Index:         i,
			URLOrText:     strings.TrimSpace(item.URLOrText),
			TargetKeyword: strings.TrimSpace(item.TargetKeyword),
			Status:        ItemStatusPending,
		}
	}
	return batch
}

// AggregateStatus computes the batch status from item statuses alone
func AggregateStatus(items []BatchItem) BatchStatus {
	for _, item := range items {
		if !item.Status.IsTerminal() {
			return BatchStatusRunning
		}
	}
	return BatchStatusCompleted
}

// Recompute refreshes Status and CompletedAt from the items
func (b *Batch) Recompute(now time.Time) {
	b.Status = AggregateStatus(b.Items)
	if b.Status == BatchStatusCompleted {
		if b.CompletedAt == nil {
			t := now
			b.CompletedAt = &t
		}
		return
	}
	b.CompletedAt = nil
}

// Reconcile derives Status from the items of a batch that was read in more than one
// step. A missing CompletedAt falls back to the latest item completion.
func (b *Batch) Reconcile() {
	b.Status = AggregateStatus(b.Items)
	if b.Status != BatchStatusCompleted {
		b.CompletedAt = nil
		return
	}
	if b.CompletedAt != nil {
		return
	}
	for _, item := range b.Items {
		if item.CompletedAt != nil && (b.CompletedAt == nil || item.CompletedAt.After(*b.CompletedAt)) {
			t := *item.CompletedAt
			b.CompletedAt = &t
		}
	}
	if b.CompletedAt == nil {
		t := b.CreatedAt
		b.CompletedAt = &t
	}
}

// Clone returns a deep copy so callers never share memory with a store
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	out := *b
	out.Items = make([]BatchItem, len(b.Items))
	for i := range b.Items {
		out.Items[i] = b.Items[i].Clone()
	}
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
