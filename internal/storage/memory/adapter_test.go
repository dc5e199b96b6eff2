package memory

import (
	"testing"

	"github.com/kurihiro0119/content-audit/internal/storage"
	"github.com/kurihiro0119/content-audit/internal/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.BatchStore {
		return NewMemoryStorage()
	})
}
