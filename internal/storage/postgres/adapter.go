package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/content-audit/internal/domain"
	apperrors "github.com/kurihiro0119/content-audit/internal/errors"
	"github.com/kurihiro0119/content-audit/internal/storage"
)

// postgresStorage implements the BatchStore interface for PostgreSQL
type postgresStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.BatchStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, storage.Persistence("open postgres", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, storage.Persistence("ping postgres", err)
	}

	s := &postgresStorage{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, storage.Persistence("migrate postgres", err)
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		total_items INTEGER NOT NULL,
		completed_items INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_batches_created_at ON batches(created_at);

	CREATE TABLE IF NOT EXISTS batch_items (
		batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
		item_index INTEGER NOT NULL,
		url_or_text TEXT NOT NULL,
		target_keyword TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		overall_score INTEGER,
		seo_score INTEGER,
		serp_score INTEGER,
		aeo_score INTEGER,
		humanization_score INTEGER,
		differentiation_score INTEGER,
		error TEXT NOT NULL DEFAULT '',
		completed_at TIMESTAMPTZ,
		PRIMARY KEY (batch_id, item_index)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Create persists a new batch and its items in one transaction
func (s *postgresStorage) Create(ctx context.Context, name string, items []domain.NewItem) (*domain.Batch, error) {
	batch, err := storage.NewBatchRecord(name, items, s.now())
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Persistence("begin create batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, name, status, total_items, completed_items, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)
	`, batch.ID, batch.Name, string(batch.Status), len(batch.Items), batch.CreatedAt)
	if err != nil {
		return nil, storage.Persistence("insert batch", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO batch_items (batch_id, item_index, url_or_text, target_keyword, status)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return nil, storage.Persistence("prepare insert items", err)
	}
	defer stmt.Close()

	for _, item := range batch.Items {
		if _, err := stmt.ExecContext(ctx, batch.ID, item.Index, item.URLOrText, item.TargetKeyword, string(item.Status)); err != nil {
			return nil, storage.Persistence("insert batch item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storage.Persistence("commit create batch", err)
	}
	return batch, nil
}

// Get retrieves a batch with its items in creation order
func (s *postgresStorage) Get(ctx context.Context, id string) (*domain.Batch, error) {
	batch, err := loadBatch(ctx, s.db, id, false)
	if err != nil {
		return nil, storage.Persistence("get batch", err)
	}
	return batch, nil
}

// UpdateItem locks the batch row so writers of one batch are serialized while
// other batches are untouched
func (s *postgresStorage) UpdateItem(ctx context.Context, batchID string, index int, update domain.ItemUpdate) (*domain.Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Persistence("begin update item", err)
	}
	defer func() { _ = tx.Rollback() }()

	batch, err := loadBatch(ctx, tx, batchID, true)
	if err != nil {
		return nil, storage.Persistence("load batch for update", err)
	}

	if update.At.IsZero() {
		update.At = s.now()
	}
	if err := domain.ApplyItemUpdate(batch, index, update); err != nil {
		return nil, err
	}
	item := batch.Items[index]
	scores := storage.ScoreColumns(item)

	_, err = tx.ExecContext(ctx, `
		UPDATE batch_items
		SET status = $1, overall_score = $2, seo_score = $3, serp_score = $4, aeo_score = $5,
			humanization_score = $6, differentiation_score = $7, error = $8, completed_at = $9
		WHERE batch_id = $10 AND item_index = $11
	`, string(item.Status), scores[0], scores[1], scores[2], scores[3], scores[4], scores[5],
		item.Error, nullTime(item.CompletedAt), batchID, index)
	if err != nil {
		return nil, storage.Persistence("update batch item", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE batches
		SET status = $1, completed_items = $2, completed_at = $3
		WHERE id = $4
	`, string(batch.Status), storage.CountTerminal(batch.Items), nullTime(batch.CompletedAt), batchID)
	if err != nil {
		return nil, storage.Persistence("update batch status", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storage.Persistence("commit update item", err)
	}
	return batch, nil
}

// List returns the newest batches first
func (s *postgresStorage) List(ctx context.Context, limit int) ([]*domain.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM batches ORDER BY created_at DESC, id DESC LIMIT $1
	`, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, storage.Persistence("list batches", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, storage.Persistence("scan batch id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storage.Persistence("list batches", err)
	}

	batches := make([]*domain.Batch, 0, len(ids))
	for _, id := range ids {
		batch, err := loadBatch(ctx, s.db, id, false)
		if err != nil {
			return nil, storage.Persistence("load listed batch", err)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadBatch(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Batch, error) {
	query := `SELECT name, status, created_at, completed_at FROM batches WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	batch := &domain.Batch{ID: id}
	var status string
	var completedAt sql.NullTime

	err := q.QueryRowContext(ctx, query, id).Scan(&batch.Name, &status, &batch.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("batch " + id)
	}
	if err != nil {
		return nil, err
	}
	batch.Status = domain.BatchStatus(status)
	batch.CreatedAt = batch.CreatedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		batch.CompletedAt = &t
	}

	rows, err := q.QueryContext(ctx, `
		SELECT item_index, url_or_text, target_keyword, status, overall_score, seo_score, serp_score,
			aeo_score, humanization_score, differentiation_score, error, completed_at
		FROM batch_items WHERE batch_id = $1 ORDER BY item_index
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var row storage.ItemRow
		if err := rows.Scan(&row.Index, &row.URLOrText, &row.TargetKeyword, &row.Status,
			&row.Scores[0], &row.Scores[1], &row.Scores[2], &row.Scores[3], &row.Scores[4], &row.Scores[5],
			&row.Error, &row.CompletedAt); err != nil {
			return nil, err
		}
		batch.Items = append(batch.Items, row.Item())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// the batches row and its items come from separate statements; the items win
	batch.Reconcile()
	return batch, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
