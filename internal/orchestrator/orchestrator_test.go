package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/content-audit/internal/analysis"
	"github.com/kurihiro0119/content-audit/internal/domain"
	apperrors "github.com/kurihiro0119/content-audit/internal/errors"
	"github.com/kurihiro0119/content-audit/internal/storage"
	"github.com/kurihiro0119/content-audit/internal/storage/memory"
)

type stubClient struct {
	mu          sync.Mutex
	calls       []string
	inFlight    int
	maxInFlight int
	analyze     func(ctx context.Context, req analysis.Request) (*domain.AnalysisResult, error)
}

func (c *stubClient) Analyze(ctx context.Context, req analysis.Request) (*domain.AnalysisResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req.Input)
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()
	return c.analyze(ctx, req)
}

func (c *stubClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// scoredClient answers every input from a fixed score table; "slow" inputs block
// until their deadline
func scoredClient(scores map[string]int) *stubClient {
	return &stubClient{analyze: func(ctx context.Context, req analysis.Request) (*domain.AnalysisResult, error) {
		if strings.HasPrefix(req.Input, "slow") {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if score, ok := scores[req.Input]; ok {
			return &domain.AnalysisResult{OverallScore: score, Dimensions: domain.DimensionScores{SEO: score}}, nil
		}
		return nil, apperrors.NewAnalysisError("analysis service returned 500", errors.New("fetch failed"))
	}}
}

// blockingClient signals on started and then waits for cancellation
func blockingClient(started chan<- string) *stubClient {
	return &stubClient{analyze: func(ctx context.Context, req analysis.Request) (*domain.AnalysisResult, error) {
		started <- req.Input
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ItemEvent
	err    error
}

func (p *recordingPublisher) PublishItemResolved(_ context.Context, event domain.ItemEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

// flakyStore fails the n-th UpdateItem call with a persistence error
type flakyStore struct {
	storage.BatchStore
	mu      sync.Mutex
	updates int
	failOn  int
}

func (s *flakyStore) UpdateItem(ctx context.Context, batchID string, index int, update domain.ItemUpdate) (*domain.Batch, error) {
	s.mu.Lock()
	s.updates++
	fail := s.updates == s.failOn
	s.mu.Unlock()

	if fail {
		return nil, apperrors.NewPersistenceError("update item", errors.New("connection reset"))
	}
	return s.BatchStore.UpdateItem(ctx, batchID, index, update)
}

func newItems(refs ...string) []domain.NewItem {
	out := make([]domain.NewItem, len(refs))
	for i, ref := range refs {
		out[i] = domain.NewItem{URLOrText: ref}
	}
	return out
}

func statuses(batch *domain.Batch) []domain.ItemStatus {
	out := make([]domain.ItemStatus, len(batch.Items))
	for i, item := range batch.Items {
		out[i] = item.Status
	}
	return out
}

func TestRunRecordsSuccessAndTimeout(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	client := scoredClient(map[string]int{"https://a.test": 91, "https://c.test": 74})

	type progress struct{ done, total, index int }
	var seen []progress
	orch := New(store, client, Options{
		ItemTimeout: 20 * time.Millisecond,
		OnProgress: func(done, total int, item domain.BatchItem) {
			seen = append(seen, progress{done, total, item.Index})
		},
	})

	batch, err := orch.Create(ctx, "", newItems("https://a.test", "slow.test", "https://c.test"))
	require.NoError(t, err)
	require.NoError(t, orch.Run(ctx, batch.ID))

	got, err := store.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, []domain.ItemStatus{
		domain.ItemStatusCompleted, domain.ItemStatusFailed, domain.ItemStatusCompleted,
	}, statuses(got))

	require.NotNil(t, got.Items[0].OverallScore)
	assert.Equal(t, 91, *got.Items[0].OverallScore)
	assert.Equal(t, 91, got.Items[0].Dimensions.SEO)
	assert.Contains(t, got.Items[1].Error, "timed out")
	assert.Nil(t, got.Items[1].OverallScore)
	require.NotNil(t, got.Items[2].OverallScore)
	assert.Equal(t, 74, *got.Items[2].OverallScore)

	assert.Equal(t, []progress{{1, 3, 0}, {2, 3, 1}, {3, 3, 2}}, seen)
}

func TestRunFoldsServiceErrorsIntoItems(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	client := scoredClient(map[string]int{"a": 60, "c": 80})
	orch := New(store, client, Options{})

	batch, err := store.Create(ctx, "mixed", newItems("a", "broken", "c"))
	require.NoError(t, err)
	require.NoError(t, orch.Run(ctx, batch.ID))

	got, err := store.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, got.Status)
	assert.Equal(t, domain.ItemStatusFailed, got.Items[1].Status)
	assert.Equal(t, "analysis service returned 500: fetch failed", got.Items[1].Error)
	assert.Equal(t, domain.ItemStatusCompleted, got.Items[2].Status)
}

func TestRunDispatchesSequentiallyInOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	client := scoredClient(map[string]int{"1": 10, "2": 20, "3": 30, "4": 40})
	orch := New(store, client, Options{})

	batch, err := store.Create(ctx, "", newItems("1", "2", "3", "4"))
	require.NoError(t, err)
	require.NoError(t, orch.Run(ctx, batch.ID))

	assert.Equal(t, []string{"1", "2", "3", "4"}, client.Calls())
	assert.Equal(t, 1, client.maxInFlight)
}

func TestRunUnknownBatch(t *testing.T) {
	orch := New(memory.NewMemoryStorage(), scoredClient(nil), Options{})
	err := orch.Run(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRunSurfacesPersistenceFailureAndResumes(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{BatchStore: memory.NewMemoryStorage(), failOn: 3}
	client := scoredClient(map[string]int{"a": 50, "b": 60})
	orch := New(store, client, Options{})

	batch, err := store.Create(ctx, "", newItems("a", "b"))
	require.NoError(t, err)

	err = orch.Run(ctx, batch.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsPersistence(err))

	got, err := store.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusRunning, got.Status)
	assert.Equal(t, []domain.ItemStatus{domain.ItemStatusCompleted, domain.ItemStatusPending}, statuses(got))

	require.NoError(t, orch.Run(ctx, batch.ID))
	got, err = store.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, got.Status)
	assert.Equal(t, []string{"a", "b"}, client.Calls())
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	client := scoredClient(map[string]int{"a": 50})
	orch := New(store, client, Options{})

	batch, err := store.Create(ctx, "", newItems("a", "b"))
	require.NoError(t, err)
	require.NoError(t, orch.Run(ctx, batch.ID))
	first, err := store.Get(ctx, batch.ID)
	require.NoError(t, err)

	require.NoError(t, orch.Run(ctx, batch.ID))
	second, err := store.Get(ctx, batch.ID)
	require.NoError(t, err)

	assert.Len(t, client.Calls(), 2)
	assert.Equal(t, first, second)
}

func TestAggregateMatchesItems(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	client := scoredClient(map[string]int{"a": 1, "c": 3})

	var mu sync.Mutex
	var mismatches []string

	batch, err := store.Create(ctx, "", newItems("a", "b", "c"))
	require.NoError(t, err)

	check := New(store, client, Options{
		OnProgress: func(done, total int, item domain.BatchItem) {
			got, err := store.Get(ctx, batch.ID)
			if err != nil {
				mu.Lock()
				mismatches = append(mismatches, err.Error())
				mu.Unlock()
				return
			}
			if got.Status != domain.AggregateStatus(got.Items) {
				mu.Lock()
				mismatches = append(mismatches, string(got.Status))
				mu.Unlock()
			}
			if done != storage.CountTerminal(got.Items) || total != len(got.Items) {
				mu.Lock()
				mismatches = append(mismatches, "progress counts")
				mu.Unlock()
			}
		},
	})
	require.NoError(t, check.Run(ctx, batch.ID))
	assert.Empty(t, mismatches)
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	started := make(chan string, 4)
	orch := New(store, blockingClient(started), Options{})

	batch, err := orch.CreateAndStart(ctx, "", newItems("a", "b"))
	require.NoError(t, err)
	<-started

	assert.True(t, orch.IsActive(batch.ID))
	assert.True(t, apperrors.IsConflict(orch.Start(batch.ID)))
	assert.True(t, apperrors.IsConflict(orch.Run(ctx, batch.ID)))
	_, err = orch.AnalyzeItem(ctx, batch.ID, 1)
	assert.True(t, apperrors.IsConflict(err))

	_, err = orch.Cancel(ctx, batch.ID)
	require.NoError(t, err)
	orch.Wait()
	assert.False(t, orch.IsActive(batch.ID))
}

func TestStartUnknownBatch(t *testing.T) {
	orch := New(memory.NewMemoryStorage(), scoredClient(nil), Options{})
	assert.True(t, apperrors.IsNotFound(orch.Start("missing")))
}

func TestCancelStopsRunAndMarksRemaining(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	started := make(chan string, 4)
	client := blockingClient(started)
	orch := New(store, client, Options{})

	batch, err := store.Create(ctx, "", newItems("a", "b", "c"))
	require.NoError(t, err)
	require.NoError(t, orch.Start(batch.ID))
	assert.Equal(t, "a", <-started)

	cancelled, err := orch.Cancel(ctx, batch.ID)
	require.NoError(t, err)
	orch.Wait()

	assert.Equal(t, domain.BatchStatusCompleted, cancelled.Status)
	for _, item := range cancelled.Items {
		assert.Equal(t, domain.ItemStatusCancelled, item.Status)
		assert.Equal(t, CancelledReason, item.Error)
		assert.Nil(t, item.OverallScore)
	}

	// a cancelled batch is never resumed
	require.NoError(t, orch.Run(ctx, batch.ID))
	assert.Equal(t, []string{"a"}, client.Calls())
}

func TestCancelLeavesTerminalItems(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	orch := New(store, scoredClient(map[string]int{"a": 70}), Options{})

	batch, err := store.Create(ctx, "", newItems("a", "b"))
	require.NoError(t, err)
	_, err = orch.AnalyzeItem(ctx, batch.ID, 0)
	require.NoError(t, err)

	got, err := orch.Cancel(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.ItemStatus{domain.ItemStatusCompleted, domain.ItemStatusCancelled}, statuses(got))
	require.NotNil(t, got.Items[0].OverallScore)
	assert.Equal(t, 70, *got.Items[0].OverallScore)
}

func TestCancelUnknownBatch(t *testing.T) {
	orch := New(memory.NewMemoryStorage(), scoredClient(nil), Options{})
	_, err := orch.Cancel(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
	assert.False(t, orch.IsActive("missing"))
}

func TestAnalyzeItem(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	orch := New(store, scoredClient(map[string]int{"b": 42}), Options{})

	batch, err := store.Create(ctx, "", newItems("a", "b"))
	require.NoError(t, err)

	item, err := orch.AnalyzeItem(ctx, batch.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusCompleted, item.Status)
	require.NotNil(t, item.OverallScore)
	assert.Equal(t, 42, *item.OverallScore)

	_, err = orch.AnalyzeItem(ctx, batch.ID, 1)
	assert.True(t, apperrors.IsInvalidTransition(err))

	_, err = orch.AnalyzeItem(ctx, batch.ID, 5)
	assert.True(t, apperrors.IsNotFound(err))

	got, err := store.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusPending, got.Items[0].Status)
	assert.Equal(t, domain.BatchStatusRunning, got.Status)
}

func TestShutdownLeavesItemsResumable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	started := make(chan string, 4)
	orch := New(store, blockingClient(started), Options{})

	batch, err := store.Create(ctx, "", newItems("a", "b"))
	require.NoError(t, err)
	require.NoError(t, orch.Start(batch.ID))
	<-started

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Shutdown(shutdownCtx))

	got, err := store.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.ItemStatus{domain.ItemStatusInProgress, domain.ItemStatusPending}, statuses(got))

	resumed := New(store, scoredClient(map[string]int{"a": 11, "b": 22}), Options{})
	require.NoError(t, resumed.Run(ctx, batch.ID))
	got, err = store.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, got.Status)
	require.NotNil(t, got.Items[0].OverallScore)
	assert.Equal(t, 11, *got.Items[0].OverallScore)
}

func TestEventsPublishedAndFailuresTolerated(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	publisher := &recordingPublisher{err: errors.New("broker down")}
	orch := New(store, scoredClient(map[string]int{"a": 90}), Options{Publisher: publisher})

	batch, err := store.Create(ctx, "", newItems("a", "b"))
	require.NoError(t, err)
	require.NoError(t, orch.Run(ctx, batch.ID))

	require.Len(t, publisher.events, 2)
	assert.Equal(t, batch.ID, publisher.events[0].BatchID)
	assert.Equal(t, domain.BatchStatusRunning, publisher.events[0].BatchStatus)
	assert.Equal(t, domain.ItemStatusCompleted, publisher.events[0].Item.Status)
	assert.Equal(t, domain.BatchStatusCompleted, publisher.events[1].BatchStatus)
	assert.Equal(t, 2, publisher.events[1].Total)
}

func TestDistinctBatchesRunInParallel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	client := scoredClient(map[string]int{"x-1": 1, "x-2": 2, "y-1": 3, "y-2": 4})
	orch := New(store, client, Options{})

	x, err := orch.CreateAndStart(ctx, "x", newItems("x-1", "x-2"))
	require.NoError(t, err)
	y, err := orch.CreateAndStart(ctx, "y", newItems("y-1", "y-2"))
	require.NoError(t, err)
	orch.Wait()

	for _, id := range []string{x.ID, y.ID} {
		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusCompleted, got.Status)
	}

	var xs, ys []string
	for _, call := range client.Calls() {
		if strings.HasPrefix(call, "x") {
			xs = append(xs, call)
		} else {
			ys = append(ys, call)
		}
	}
	assert.Equal(t, []string{"x-1", "x-2"}, xs)
	assert.Equal(t, []string{"y-1", "y-2"}, ys)
}

// stallingPublisher blocks until its context ends, like a writer facing an unreachable broker
type stallingPublisher struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (p *stallingPublisher) PublishItemResolved(ctx context.Context, _ domain.ItemEvent) error {
	<-ctx.Done()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.errs = append(p.errs, ctx.Err())
	return ctx.Err()
}

func (p *stallingPublisher) Close() error { return nil }

func TestStalledPublisherDoesNotStallRun(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	publisher := &stallingPublisher{}
	orch := New(store, scoredClient(map[string]int{"a": 1, "b": 2}), Options{
		Publisher:      publisher,
		PublishTimeout: 20 * time.Millisecond,
	})

	batch, err := store.Create(ctx, "", newItems("a", "b"))
	require.NoError(t, err)

	started := time.Now()
	require.NoError(t, orch.Run(ctx, batch.ID))
	assert.Less(t, time.Since(started), 2*time.Second)

	got, err := store.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, got.Status)
	assert.Equal(t, 2, publisher.calls)
	for _, err := range publisher.errs {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}

func TestAnalyzeItemOutlivesCallerContext(t *testing.T) {
	store := memory.NewMemoryStorage()
	started := make(chan struct{})
	release := make(chan struct{})
	client := &stubClient{analyze: func(ctx context.Context, req analysis.Request) (*domain.AnalysisResult, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &domain.AnalysisResult{OverallScore: 66}, nil
	}}
	orch := New(store, client, Options{})

	batch, err := store.Create(context.Background(), "", newItems("a"))
	require.NoError(t, err)

	callerCtx, hangUp := context.WithCancel(context.Background())
	type result struct {
		item *domain.BatchItem
		err  error
	}
	done := make(chan result, 1)
	go func() {
		item, err := orch.AnalyzeItem(callerCtx, batch.ID, 0)
		done <- result{item, err}
	}()

	<-started
	hangUp()
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, domain.ItemStatusCompleted, res.item.Status)

	got, err := store.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, got.Status)
}
