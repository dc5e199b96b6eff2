package domain

import (
	"strconv"
	"strings"
	"time"

	apperrors "github.com/kurihiro0119/content-audit/internal/errors"
)

// ItemStatus represents the lifecycle state of a batch item
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusCancelled  ItemStatus = "cancelled"
)

// IsValid reports whether s is a known item status
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusInProgress, ItemStatusCompleted, ItemStatusFailed, ItemStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed || s == ItemStatusCancelled
}

// CanTransitionTo reports whether moving from s to next keeps the status monotonic.
// in_progress -> in_progress is allowed so a resumed run can re-claim an item.
func (s ItemStatus) CanTransitionTo(next ItemStatus) bool {
	switch s {
	case ItemStatusPending:
		return next == ItemStatusInProgress || next == ItemStatusCancelled
	case ItemStatusInProgress:
		return next == ItemStatusInProgress || next.IsTerminal()
	default:
		return false
	}
}

// BatchItem is one content reference tracked independently within a batch
type BatchItem struct {
	Index         int              `json:"index"`
	URLOrText     string           `json:"url_or_text"`
	TargetKeyword string           `json:"target_keyword,omitempty"`
	Status        ItemStatus       `json:"status"`
	OverallScore  *int             `json:"overall_score,omitempty"`
	Dimensions    *DimensionScores `json:"dimensions,omitempty"`
	Error         string           `json:"error,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the item
func (i BatchItem) Clone() BatchItem {
	out := i
	if i.OverallScore != nil {
		v := *i.OverallScore
		out.OverallScore = &v
	}
	if i.Dimensions != nil {
		d := *i.Dimensions
		out.Dimensions = &d
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// ItemUpdate is the only shape in which an item is mutated
type ItemUpdate struct {
	Status ItemStatus
	Result *AnalysisResult // required for completed
	Error  string          // required for failed
	At     time.Time
}

// Validate checks that the update carries the fields its status requires
func (u ItemUpdate) Validate() error {
	if !u.Status.IsValid() {
		return apperrors.NewValidationError("unknown item status: " + string(u.Status))
	}
	if u.Status == ItemStatusPending {
		return apperrors.NewInvalidTransitionError("items cannot be moved back to pending")
	}
	switch u.Status {
	case ItemStatusCompleted:
		if u.Result == nil {
			return apperrors.NewValidationError("completed update requires an analysis result")
		}
		if err := u.Result.Validate(); err != nil {
			return apperrors.NewValidationError(err.Error())
		}
	case ItemStatusFailed:
		if strings.TrimSpace(u.Error) == "" {
			return apperrors.NewValidationError("failed update requires an error message")
		}
	}
	return nil
}

// ApplyItemUpdate mutates one item in place and recomputes the aggregate status.
// The item's status and its result/error fields change together or not at all.
func ApplyItemUpdate(batch *Batch, index int, u ItemUpdate) error {
	if index < 0 || index >= len(batch.Items) {
		return apperrors.NewNotFoundError("batch item")
	}
	if err := u.Validate(); err != nil {
		return err
	}

	item := &batch.Items[index]
	if !item.Status.CanTransitionTo(u.Status) {
		return apperrors.NewInvalidTransitionError(
			"item " + strconv.Itoa(index) + " cannot move from " + string(item.Status) + " to " + string(u.Status))
	}

	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	next := BatchItem{
		Index:         item.Index,
		URLOrText:     item.URLOrText,
		TargetKeyword: item.TargetKeyword,
		Status:        u.Status,
	}
	switch u.Status {
	case ItemStatusCompleted:
		score := u.Result.OverallScore
		dims := u.Result.Dimensions
		next.OverallScore = &score
		next.Dimensions = &dims
	case ItemStatusFailed, ItemStatusCancelled:
		next.Error = strings.TrimSpace(u.Error)
	}
	if u.Status.IsTerminal() {
		next.CompletedAt = &at
	}

	*item = next
	batch.Recompute(at)
	return nil
}
