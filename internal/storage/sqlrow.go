package storage

import (
	"database/sql"

	"github.com/kurihiro0119/content-audit/internal/domain"
)

// ItemRow is the column layout of batch_items shared by the SQL backends.
// Scores holds overall, seo, serp, aeo, humanization and differentiation in that order.
type ItemRow struct {
	Index         int
	URLOrText     string
	TargetKeyword string
	Status        string
	Scores        [6]sql.NullInt64
	Error         string
	CompletedAt   sql.NullTime
}

// Item converts the row back into a domain item
func (r ItemRow) Item() domain.BatchItem {
	item := domain.BatchItem{
		Index:         r.Index,
		URLOrText:     r.URLOrText,
		TargetKeyword: r.TargetKeyword,
		Status:        domain.ItemStatus(r.Status),
		Error:         r.Error,
	}
	if r.Scores[0].Valid {
		score := int(r.Scores[0].Int64)
		item.OverallScore = &score
		item.Dimensions = &domain.DimensionScores{
			SEO:             int(r.Scores[1].Int64),
			SERP:            int(r.Scores[2].Int64),
			AEO:             int(r.Scores[3].Int64),
			Humanization:    int(r.Scores[4].Int64),
			Differentiation: int(r.Scores[5].Int64),
		}
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		item.CompletedAt = &t
	}
	return item
}

// ScoreColumns returns the nullable score columns for an item
func ScoreColumns(item domain.BatchItem) [6]sql.NullInt64 {
	var cols [6]sql.NullInt64
	if item.OverallScore == nil {
		return cols
	}
	cols[0] = sql.NullInt64{Int64: int64(*item.OverallScore), Valid: true}
	if d := item.Dimensions; d != nil {
		cols[1] = sql.NullInt64{Int64: int64(d.SEO), Valid: true}
		cols[2] = sql.NullInt64{Int64: int64(d.SERP), Valid: true}
		cols[3] = sql.NullInt64{Int64: int64(d.AEO), Valid: true}
		cols[4] = sql.NullInt64{Int64: int64(d.Humanization), Valid: true}
		cols[5] = sql.NullInt64{Int64: int64(d.Differentiation), Valid: true}
	}
	return cols
}

// CountTerminal counts items in any terminal state
func CountTerminal(items []domain.BatchItem) int {
	n := 0
	for _, item := range items {
		if item.Status.IsTerminal() {
			n++
		}
	}
	return n
}
