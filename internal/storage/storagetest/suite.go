// Package storagetest holds the behaviour every BatchStore backend must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/content-audit/internal/domain"
	apperrors "github.com/kurihiro0119/content-audit/internal/errors"
	"github.com/kurihiro0119/content-audit/internal/storage"
)

// Factory opens an empty store for one subtest
type Factory func(t *testing.T) storage.BatchStore

// Run executes the shared BatchStore checks against the backend built by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateThenGet", func(t *testing.T) { testCreateThenGet(t, newStore(t)) })
	t.Run("CreateRejectsEmpty", func(t *testing.T) { testCreateRejectsEmpty(t, newStore(t)) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, newStore(t)) })
	t.Run("UpdateLifecycle", func(t *testing.T) { testUpdateLifecycle(t, newStore(t)) })
	t.Run("TerminalIsFinal", func(t *testing.T) { testTerminalIsFinal(t, newStore(t)) })
	t.Run("UpdateUnknown", func(t *testing.T) { testUpdateUnknown(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("ConcurrentBatches", func(t *testing.T) { testConcurrentBatches(t, newStore(t)) })
	t.Run("ReadersSeeConsistentBatch", func(t *testing.T) { testReadersSeeConsistentBatch(t, newStore(t)) })
}

func items(refs ...string) []domain.NewItem {
	out := make([]domain.NewItem, len(refs))
	for i, ref := range refs {
		out[i] = domain.NewItem{URLOrText: ref}
	}
	return out
}

func testCreateThenGet(t *testing.T, s storage.BatchStore) {
	ctx := context.Background()
	created, err := s.Create(ctx, "site audit", []domain.NewItem{
		{URLOrText: "https://a.test", TargetKeyword: "go"},
		{URLOrText: "plain text body"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "site audit", got.Name)
	assert.Equal(t, domain.BatchStatusRunning, got.Status)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "https://a.test", got.Items[0].URLOrText)
	assert.Equal(t, "go", got.Items[0].TargetKeyword)
	assert.Equal(t, "plain text body", got.Items[1].URLOrText)
	for i, item := range got.Items {
		assert.Equal(t, i, item.Index)
		assert.Equal(t, domain.ItemStatusPending, item.Status)
	}
}

func testCreateRejectsEmpty(t *testing.T, s storage.BatchStore) {
	ctx := context.Background()

	_, err := s.Create(ctx, "empty", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = s.Create(ctx, "blank", items("https://a.test", "   "))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	list, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testGetUnknown(t *testing.T, s storage.BatchStore) {
	_, err := s.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func testUpdateLifecycle(t *testing.T, s storage.BatchStore) {
	ctx := context.Background()
	created, err := s.Create(ctx, "", items("https://a.test", "https://b.test"))
	require.NoError(t, err)

	_, err = s.UpdateItem(ctx, created.ID, 0, domain.ItemUpdate{Status: domain.ItemStatusInProgress})
	require.NoError(t, err)
	batch, err := s.UpdateItem(ctx, created.ID, 0, domain.ItemUpdate{
		Status: domain.ItemStatusCompleted,
		Result: &domain.AnalysisResult{OverallScore: 87, Dimensions: domain.DimensionScores{SEO: 80, Humanization: 70}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusRunning, batch.Status)

	_, err = s.UpdateItem(ctx, created.ID, 1, domain.ItemUpdate{Status: domain.ItemStatusInProgress})
	require.NoError(t, err)
	_, err = s.UpdateItem(ctx, created.ID, 1, domain.ItemUpdate{Status: domain.ItemStatusFailed, Error: "timeout"})
	require.NoError(t, err)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	require.NotNil(t, got.Items[0].OverallScore)
	assert.Equal(t, 87, *got.Items[0].OverallScore)
	require.NotNil(t, got.Items[0].Dimensions)
	assert.Equal(t, 80, got.Items[0].Dimensions.SEO)
	assert.Equal(t, 70, got.Items[0].Dimensions.Humanization)
	require.NotNil(t, got.Items[0].CompletedAt)

	assert.Equal(t, domain.ItemStatusFailed, got.Items[1].Status)
	assert.Nil(t, got.Items[1].OverallScore)
	assert.Equal(t, "timeout", got.Items[1].Error)
}

func testTerminalIsFinal(t *testing.T, s storage.BatchStore) {
	ctx := context.Background()
	created, err := s.Create(ctx, "", items("https://a.test"))
	require.NoError(t, err)

	_, err = s.UpdateItem(ctx, created.ID, 0, domain.ItemUpdate{Status: domain.ItemStatusInProgress})
	require.NoError(t, err)
	_, err = s.UpdateItem(ctx, created.ID, 0, domain.ItemUpdate{Status: domain.ItemStatusFailed, Error: "boom"})
	require.NoError(t, err)

	_, err = s.UpdateItem(ctx, created.ID, 0, domain.ItemUpdate{
		Status: domain.ItemStatusCompleted,
		Result: &domain.AnalysisResult{OverallScore: 90},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidTransition(err))

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusFailed, got.Items[0].Status)
	assert.Equal(t, "boom", got.Items[0].Error)
	assert.Nil(t, got.Items[0].OverallScore)
}

func testUpdateUnknown(t *testing.T, s storage.BatchStore) {
	ctx := context.Background()
	_, err := s.UpdateItem(ctx, "missing", 0, domain.ItemUpdate{Status: domain.ItemStatusInProgress})
	assert.True(t, apperrors.IsNotFound(err))

	created, err := s.Create(ctx, "", items("https://a.test"))
	require.NoError(t, err)
	_, err = s.UpdateItem(ctx, created.ID, 5, domain.ItemUpdate{Status: domain.ItemStatusInProgress})
	assert.True(t, apperrors.IsNotFound(err))
}

func testList(t *testing.T, s storage.BatchStore) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, fmt.Sprintf("batch %d", i), items("https://a.test"))
		require.NoError(t, err)
	}

	all, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func testConcurrentBatches(t *testing.T, s storage.BatchStore) {
	ctx := context.Background()
	const batches = 4
	const perBatch = 5

	ids := make([]string, batches)
	for i := range ids {
		refs := make([]string, perBatch)
		for j := range refs {
			refs[j] = fmt.Sprintf("https://%d-%d.test", i, j)
		}
		created, err := s.Create(ctx, "", items(refs...))
		require.NoError(t, err)
		ids[i] = created.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, batches*perBatch*2)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < perBatch; j++ {
				if _, err := s.UpdateItem(ctx, id, j, domain.ItemUpdate{Status: domain.ItemStatusInProgress}); err != nil {
					errs <- err
					return
				}
				if _, err := s.UpdateItem(ctx, id, j, domain.ItemUpdate{
					Status: domain.ItemStatusCompleted,
					Result: &domain.AnalysisResult{OverallScore: j * 10},
				}); err != nil {
					errs <- err
					return
				}
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, id := range ids {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusCompleted, got.Status)
		for j, item := range got.Items {
			require.NotNil(t, item.OverallScore)
			assert.Equal(t, j*10, *item.OverallScore)
		}
	}
}

// testReadersSeeConsistentBatch polls Get while the last item of a batch resolves;
// every snapshot must agree with its own items
func testReadersSeeConsistentBatch(t *testing.T, s storage.BatchStore) {
	ctx := context.Background()
	const rounds = 60
	const readers = 4

	var mu sync.Mutex
	var problems []string
	report := func(format string, args ...any) {
		mu.Lock()
		problems = append(problems, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	for round := 0; round < rounds; round++ {
		created, err := s.Create(ctx, "", items("https://a.test"))
		require.NoError(t, err)
		_, err = s.UpdateItem(ctx, created.ID, 0, domain.ItemUpdate{Status: domain.ItemStatusInProgress})
		require.NoError(t, err)

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for r := 0; r < readers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					b, err := s.Get(ctx, created.ID)
					if err != nil {
						report("get: %v", err)
						return
					}
					if b.Status != domain.AggregateStatus(b.Items) {
						report("status %s with item %s", b.Status, b.Items[0].Status)
					}
					if b.Status == domain.BatchStatusCompleted && b.CompletedAt == nil {
						report("completed batch without completed_at")
					}
					for _, item := range b.Items {
						if item.Status == domain.ItemStatusCompleted && item.OverallScore == nil {
							report("completed item %d without score", item.Index)
						}
					}
				}
			}()
		}

		_, err = s.UpdateItem(ctx, created.ID, 0, domain.ItemUpdate{
			Status: domain.ItemStatusCompleted,
			Result: &domain.AnalysisResult{OverallScore: round % 101},
		})
		close(stop)
		wg.Wait()
		require.NoError(t, err)
	}

	assert.Empty(t, problems)
}
