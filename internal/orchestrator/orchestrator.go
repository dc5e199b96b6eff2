package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kurihiro0119/content-audit/internal/analysis"
	"github.com/kurihiro0119/content-audit/internal/domain"
	apperrors "github.com/kurihiro0119/content-audit/internal/errors"
	"github.com/kurihiro0119/content-audit/internal/events"
	"github.com/kurihiro0119/content-audit/internal/storage"
)

// CancelledReason is recorded on items stopped by Cancel
const CancelledReason = "batch cancelled"

// DefaultPublishTimeout bounds each item event publish
const DefaultPublishTimeout = 5 * time.Second

// ProgressCallback is called after every item reaches a terminal state.
// done counts the batch's terminal items, including this one.
type ProgressCallback func(done, total int, item domain.BatchItem)

// Options configures an Orchestrator
type Options struct {
	// ItemTimeout bounds each analysis call; zero leaves it to the client
	ItemTimeout time.Duration
	Publisher   events.Publisher
	// PublishTimeout bounds each event publish; zero means DefaultPublishTimeout
	PublishTimeout time.Duration
	Logger         *zap.Logger
	OnProgress     ProgressCallback
	Clock          func() time.Time
}

// Orchestrator drives batches to completion, dispatching items one at a time.
// At most one run, single-item dispatch or cancellation touches a batch at once.
type Orchestrator struct {
	store       storage.BatchStore
	client      analysis.Client
	itemTimeout time.Duration
	publisher   events.Publisher
	publishWait time.Duration
	logger      *zap.Logger
	onProgress  ProgressCallback
	clock       func() time.Time

	baseCtx    context.Context
	stopAll    context.CancelFunc
	mu         sync.Mutex
	active     map[string]*activeRun
	background sync.WaitGroup
}

type activeRun struct {
	cancel        context.CancelFunc
	userCancelled atomic.Bool
	done          chan struct{}
}

// New creates a new orchestrator
func New(store storage.BatchStore, client analysis.Client, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	publishWait := opts.PublishTimeout
	if publishWait <= 0 {
		publishWait = DefaultPublishTimeout
	}

	baseCtx, stopAll := context.WithCancel(context.Background())
	return &Orchestrator{
		store:       store,
		client:      client,
		itemTimeout: opts.ItemTimeout,
		publisher:   publisher,
		publishWait: publishWait,
		logger:      logger,
		onProgress:  opts.OnProgress,
		clock:       opts.Clock,
		baseCtx:     baseCtx,
		stopAll:     stopAll,
		active:      make(map[string]*activeRun),
	}
}

// Create persists a new batch without dispatching it
func (o *Orchestrator) Create(ctx context.Context, name string, items []domain.NewItem) (*domain.Batch, error) {
	batch, err := o.store.Create(ctx, name, items)
	if err != nil {
		return nil, err
	}
	o.logger.Info("batch created",
		zap.String("batch_id", batch.ID),
		zap.String("name", batch.Name),
		zap.Int("items", len(batch.Items)))
	return batch, nil
}

// CreateAndStart creates a batch and runs it in the background
func (o *Orchestrator) CreateAndStart(ctx context.Context, name string, items []domain.NewItem) (*domain.Batch, error) {
	batch, err := o.Create(ctx, name, items)
	if err != nil {
		return nil, err
	}
	if err := o.Start(batch.ID); err != nil {
		return nil, err
	}
	return batch, nil
}

// Run drives the batch to completion on the calling goroutine. Analysis failures are
// recorded per item; only store failures are returned. Items already terminal are
// never dispatched again, so a failed Run can simply be retried.
func (o *Orchestrator) Run(ctx context.Context, batchID string) error {
	run, runCtx, err := o.claim(ctx, batchID)
	if err != nil {
		return err
	}
	defer o.release(batchID, run)

	return o.run(runCtx, run, batchID)
}

// Start runs the batch on a background worker
func (o *Orchestrator) Start(batchID string) error {
	if _, err := o.store.Get(o.baseCtx, batchID); err != nil {
		return err
	}

	run, runCtx, err := o.claim(o.baseCtx, batchID)
	if err != nil {
		return err
	}

	o.background.Add(1)
	go func() {
		defer o.background.Done()
		defer o.release(batchID, run)

		if err := o.run(runCtx, run, batchID); err != nil {
			o.logger.Error("batch run aborted", zap.String("batch_id", batchID), zap.Error(err))
		}
	}()
	return nil
}

// AnalyzeItem dispatches a single item synchronously and returns its new state.
// The dispatch outlives ctx so a dropped caller never strands the item in_progress;
// only Cancel interrupts it.
func (o *Orchestrator) AnalyzeItem(ctx context.Context, batchID string, index int) (*domain.BatchItem, error) {
	run, runCtx, err := o.claim(context.WithoutCancel(ctx), batchID)
	if err != nil {
		return nil, err
	}
	defer o.release(batchID, run)

	batch, err := o.store.Get(runCtx, batchID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(batch.Items) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("item %d of batch %s", index, batchID))
	}
	item := batch.Items[index]
	if item.Status.IsTerminal() {
		return nil, apperrors.NewInvalidTransitionError(
			fmt.Sprintf("item %d is already %s", index, item.Status))
	}

	updated, err := o.dispatch(runCtx, run, batchID, item, len(batch.Items))
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// the item turned terminal underneath us; report what the store holds
		if updated, err = o.store.Get(context.WithoutCancel(runCtx), batchID); err != nil {
			return nil, err
		}
	}
	result := updated.Items[index]
	return &result, nil
}

// Cancel stops any active run and marks every non-terminal item cancelled.
// Terminal items are left untouched and the batch is never resumed.
func (o *Orchestrator) Cancel(ctx context.Context, batchID string) (*domain.Batch, error) {
	run, err := o.claimForCancel(ctx, batchID)
	if err != nil {
		return nil, err
	}
	defer o.release(batchID, run)

	batch, err := o.store.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}

	for _, item := range batch.Items {
		if item.Status.IsTerminal() {
			continue
		}
		_, err := o.store.UpdateItem(ctx, batchID, item.Index, domain.ItemUpdate{
			Status: domain.ItemStatusCancelled,
			Error:  CancelledReason,
			At:     o.now(),
		})
		if apperrors.IsInvalidTransition(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cancel item %d: %w", item.Index, err)
		}
	}

	o.logger.Info("batch cancelled", zap.String("batch_id", batchID))
	return o.store.Get(ctx, batchID)
}

// IsActive reports whether a run currently owns the batch
func (o *Orchestrator) IsActive(batchID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[batchID]
	return ok
}

// Shutdown stops background runs without cancelling their items and waits for them.
// Interrupted items stay in_progress and are re-dispatched by the next Run.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stopAll()

	done := make(chan struct{})
	go func() {
		o.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every background run has finished
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func (o *Orchestrator) run(ctx context.Context, run *activeRun, batchID string) error {
	batch, err := o.store.Get(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch %s: %w", batchID, err)
	}

	total := len(batch.Items)
	o.logger.Info("batch run started",
		zap.String("batch_id", batchID),
		zap.Int("items", total),
		zap.Int("remaining", total-storage.CountTerminal(batch.Items)))

	for _, item := range batch.Items {
		if item.Status.IsTerminal() {
			continue
		}
		if ctx.Err() != nil {
			return o.interrupted(ctx, run, batchID)
		}
		if _, err := o.dispatch(ctx, run, batchID, item, total); err != nil {
			return fmt.Errorf("batch %s item %d: %w", batchID, item.Index, err)
		}
	}

	if ctx.Err() != nil {
		return o.interrupted(ctx, run, batchID)
	}
	o.logger.Info("batch run finished", zap.String("batch_id", batchID))
	return nil
}

// interrupted is a user cancel (not an error) or a shutdown (reported so the caller
// knows the batch still needs a run)
func (o *Orchestrator) interrupted(ctx context.Context, run *activeRun, batchID string) error {
	if run.userCancelled.Load() {
		return nil
	}
	o.logger.Warn("batch run interrupted", zap.String("batch_id", batchID))
	return ctx.Err()
}

// dispatch performs one in_progress -> terminal cycle. It returns a nil batch when
// the item turned terminal concurrently (e.g. cancelled) and was skipped.
func (o *Orchestrator) dispatch(ctx context.Context, run *activeRun, batchID string, item domain.BatchItem, total int) (*domain.Batch, error) {
	// store writes must land even when the run is being cancelled
	storeCtx := context.WithoutCancel(ctx)

	_, err := o.store.UpdateItem(storeCtx, batchID, item.Index, domain.ItemUpdate{
		Status: domain.ItemStatusInProgress,
		At:     o.now(),
	})
	if apperrors.IsInvalidTransition(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	started := time.Now()
	outcome := analysis.Dispatch(ctx, o.client, analysis.Request{
		Input:         item.URLOrText,
		TargetKeyword: item.TargetKeyword,
	}, o.itemTimeout)

	var update domain.ItemUpdate
	switch oc := outcome.(type) {
	case analysis.Success:
		result := oc.Result
		update = domain.ItemUpdate{Status: domain.ItemStatusCompleted, Result: &result}
	case analysis.Failure:
		switch {
		case oc.Cancelled && run.userCancelled.Load():
			update = domain.ItemUpdate{Status: domain.ItemStatusCancelled, Error: CancelledReason}
		case oc.Cancelled:
			// shutdown: leave the item in_progress for the next run
			return nil, nil
		default:
			update = domain.ItemUpdate{Status: domain.ItemStatusFailed, Error: oc.Reason}
		}
	default:
		update = domain.ItemUpdate{Status: domain.ItemStatusFailed, Error: fmt.Sprintf("unexpected analysis outcome %T", outcome)}
	}
	update.At = o.now()

	batch, err := o.store.UpdateItem(storeCtx, batchID, item.Index, update)
	if apperrors.IsInvalidTransition(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	resolved := batch.Items[item.Index]
	fields := []zap.Field{
		zap.String("batch_id", batchID),
		zap.Int("index", item.Index),
		zap.String("status", string(resolved.Status)),
		zap.Duration("elapsed", time.Since(started)),
	}
	if resolved.OverallScore != nil {
		fields = append(fields, zap.Int("overall_score", *resolved.OverallScore))
	}
	if resolved.Status == domain.ItemStatusFailed {
		fields = append(fields, zap.String("error", resolved.Error))
		o.logger.Warn("item failed", fields...)
	} else {
		o.logger.Info("item resolved", fields...)
	}

	o.announce(storeCtx, batch, resolved)
	return batch, nil
}

func (o *Orchestrator) announce(ctx context.Context, batch *domain.Batch, item domain.BatchItem) {
	event := domain.ItemEvent{
		BatchID:     batch.ID,
		BatchStatus: batch.Status,
		Item:        item,
		Total:       len(batch.Items),
		OccurredAt:  o.now(),
	}
	publishCtx, cancel := context.WithTimeout(ctx, o.publishWait)
	defer cancel()
	if err := o.publisher.PublishItemResolved(publishCtx, event); err != nil {
		o.logger.Warn("publish item event failed",
			zap.String("batch_id", batch.ID),
			zap.Int("index", item.Index),
			zap.Error(err))
	}

	if o.onProgress != nil {
		o.onProgress(storage.CountTerminal(batch.Items), len(batch.Items), item)
	}
}

// claim registers exclusive ownership of a batch
func (o *Orchestrator) claim(parent context.Context, batchID string) (*activeRun, context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.active[batchID]; busy {
		return nil, nil, apperrors.NewConflictError(fmt.Sprintf("batch %s is already being processed", batchID))
	}

	ctx, cancel := context.WithCancel(parent)
	run := &activeRun{cancel: cancel, done: make(chan struct{})}
	o.active[batchID] = run
	return run, ctx, nil
}

// claimForCancel stops whatever owns the batch and takes ownership itself
func (o *Orchestrator) claimForCancel(ctx context.Context, batchID string) (*activeRun, error) {
	for {
		o.mu.Lock()
		current, busy := o.active[batchID]
		if !busy {
			run := &activeRun{cancel: func() {}, done: make(chan struct{})}
			o.active[batchID] = run
			o.mu.Unlock()
			return run, nil
		}
		current.userCancelled.Store(true)
		current.cancel()
		o.mu.Unlock()

		select {
		case <-current.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (o *Orchestrator) release(batchID string, run *activeRun) {
	o.mu.Lock()
	if o.active[batchID] == run {
		delete(o.active, batchID)
	}
	o.mu.Unlock()

	run.cancel()
	close(run.done)
}

func (o *Orchestrator) now() time.Time {
	if o.clock != nil {
		return o.clock()
	}
	return time.Now().UTC()
}
