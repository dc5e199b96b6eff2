package postgres

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/content-audit/internal/storage"
	"github.com/kurihiro0119/content-audit/internal/storage/storagetest"
)

// Runs only when AUDIT_TEST_POSTGRES_URL points at a disposable database.
func TestPostgresStorage(t *testing.T) {
	url := os.Getenv("AUDIT_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("AUDIT_TEST_POSTGRES_URL not set")
	}

	storagetest.Run(t, func(t *testing.T) storage.BatchStore {
		s, err := NewPostgresStorage(url)
		require.NoError(t, err)
		ps := s.(*postgresStorage)
		_, err = ps.db.Exec(`TRUNCATE batch_items, batches`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
