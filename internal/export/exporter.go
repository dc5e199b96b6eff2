package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/kurihiro0119/content-audit/internal/domain"
	apperrors "github.com/kurihiro0119/content-audit/internal/errors"
	"github.com/kurihiro0119/content-audit/internal/progress"
)

// Header is the first CSV row
var Header = []string{"URL", "Status", "Overall Score", "SEO", "SERP", "AEO", "Humanization", "Differentiation"}

// Exporter renders completed batches as CSV
type Exporter interface {
	Export(ctx context.Context, batchID string) ([]byte, error)
}

type exporter struct {
	reporter progress.Reporter
}

// NewExporter creates a new exporter
func NewExporter(reporter progress.Reporter) Exporter {
	return &exporter{reporter: reporter}
}

// Export returns the CSV for a completed batch; running batches yield NOT_COMPLETED
func (e *exporter) Export(ctx context.Context, batchID string) ([]byte, error) {
	summary, err := e.reporter.Status(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if summary.Status != domain.BatchStatusCompleted {
		return nil, apperrors.NewNotCompletedError(batchID)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, summary); err != nil {
		return nil, apperrors.NewInternalError("failed to render csv", err)
	}
	return buf.Bytes(), nil
}

// WriteCSV writes one row per item in creation order. Scores are left empty for
// items that did not complete.
func WriteCSV(w io.Writer, summary *domain.BatchSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}

	for _, item := range summary.Items {
		row := []string{item.URLOrText, string(item.Status), "", "", "", "", "", ""}
		if item.Status == domain.ItemStatusCompleted && item.OverallScore != nil {
			row[2] = strconv.Itoa(*item.OverallScore)
			if d := item.Dimensions; d != nil {
				row[3] = strconv.Itoa(d.SEO)
				row[4] = strconv.Itoa(d.SERP)
				row[5] = strconv.Itoa(d.AEO)
				row[6] = strconv.Itoa(d.Humanization)
				row[7] = strconv.Itoa(d.Differentiation)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Filename is the download name for a batch export
func Filename(batchID string) string {
	return "batch-analysis-" + batchID + ".csv"
}
