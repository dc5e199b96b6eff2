package domain

import "time"

// BatchSummary is the read-only progress projection of a batch
type BatchSummary struct {
	ID              string      `json:"batch_id"`
	Name            string      `json:"name"`
	Status          BatchStatus `json:"status"`
	TotalItems      int         `json:"total_items"`
	CompletedItems  int         `json:"completed_items"`
	SucceededItems  int         `json:"succeeded_items"`
	FailedItems     int         `json:"failed_items"`
	CancelledItems  int         `json:"cancelled_items"`
	PendingItems    int         `json:"pending_items"`
	PercentComplete float64     `json:"percent_complete"`
	AverageScore    *float64    `json:"average_score,omitempty"`
	Items           []BatchItem `json:"items"`
	CreatedAt       time.Time   `json:"created_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
}

// ItemEvent is published whenever an item reaches a terminal state
type ItemEvent struct {
	BatchID     string      `json:"batch_id"`
	BatchStatus BatchStatus `json:"batch_status"`
	Item        BatchItem   `json:"item"`
	Total       int         `json:"total_items"`
	OccurredAt  time.Time   `json:"occurred_at"`
}
