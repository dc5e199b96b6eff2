package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/content-audit/internal/domain"
	apperrors "github.com/kurihiro0119/content-audit/internal/errors"
)

// NewBatchRecord validates a creation request and builds the batch every backend persists
func NewBatchRecord(name string, items []domain.NewItem, now time.Time) (*domain.Batch, error) {
	if err := domain.ValidateNewItems(items); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	return domain.NewBatch(uuid.New().String(), name, items, now.UTC()), nil
}

// NormalizeLimit applies the default list limit
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// Persistence wraps a driver error unless it already carries an application code
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.CodeOf(err) != "" {
		return err
	}
	return apperrors.NewPersistenceError(op, err)
}
