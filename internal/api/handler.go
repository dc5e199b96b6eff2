package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/content-audit/internal/domain"
	apperrors "github.com/kurihiro0119/content-audit/internal/errors"
	"github.com/kurihiro0119/content-audit/internal/export"
	"github.com/kurihiro0119/content-audit/internal/orchestrator"
	"github.com/kurihiro0119/content-audit/internal/progress"
)

// Handler handles API requests
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	reporter     progress.Reporter
	exporter     export.Exporter
}

// NewHandler creates a new API handler
func NewHandler(orch *orchestrator.Orchestrator, reporter progress.Reporter, exporter export.Exporter) *Handler {
	return &Handler{
		orchestrator: orch,
		reporter:     reporter,
		exporter:     exporter,
	}
}

// CreateBatchRequest is the body of POST /api/v1/batches.
// Items are either plain strings or {"url_or_text", "target_keyword"} objects.
type CreateBatchRequest struct {
	Name          string            `json:"name"`
	Items         []json.RawMessage `json:"items"`
	TargetKeyword string            `json:"target_keyword"`
	Start         *bool             `json:"start"`
}

type itemRequest struct {
	URLOrText     string `json:"url_or_text"`
	TargetKeyword string `json:"target_keyword"`
}

// CreateBatch creates a batch and starts it unless start is false
// POST /api/v1/batches
func (h *Handler) CreateBatch(c *gin.Context) {
	var req CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid request body: "+err.Error()))
		return
	}

	items, err := req.newItems()
	if err != nil {
		respondError(c, err)
		return
	}

	var batch *domain.Batch
	if req.Start == nil || *req.Start {
		batch, err = h.orchestrator.CreateAndStart(c.Request.Context(), req.Name, items)
	} else {
		batch, err = h.orchestrator.Create(c.Request.Context(), req.Name, items)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data": gin.H{
			"batch_id": batch.ID,
			"name":     batch.Name,
			"status":   batch.Status,
		},
	})
}

func (r CreateBatchRequest) newItems() ([]domain.NewItem, error) {
	items := make([]domain.NewItem, 0, len(r.Items))
	for i, raw := range r.Items {
		var item itemRequest
		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '"' {
			if err := json.Unmarshal(trimmed, &item.URLOrText); err != nil {
				return nil, apperrors.NewBadRequestError("item " + strconv.Itoa(i) + ": " + err.Error())
			}
		} else if err := json.Unmarshal(raw, &item); err != nil {
			return nil, apperrors.NewBadRequestError("item " + strconv.Itoa(i) + " must be a string or an object")
		}

		if item.TargetKeyword == "" {
			item.TargetKeyword = r.TargetKeyword
		}
		items = append(items, domain.NewItem{URLOrText: item.URLOrText, TargetKeyword: item.TargetKeyword})
	}
	return items, nil
}

// RunBatch starts or resumes a batch on a background worker
// POST /api/v1/batches/:id/run
func (h *Handler) RunBatch(c *gin.Context) {
	id := c.Param("id")
	if err := h.orchestrator.Start(id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"data": gin.H{
			"batch_id": id,
			"status":   domain.BatchStatusRunning,
		},
	})
}

// AnalyzeItem analyzes a single item synchronously
// POST /api/v1/batches/:id/items/:index/analyze
func (h *Handler) AnalyzeItem(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		respondError(c, apperrors.NewBadRequestError("item index must be a non-negative integer"))
		return
	}

	item, err := h.orchestrator.AnalyzeItem(c.Request.Context(), c.Param("id"), index)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": item,
	})
}

// GetBatch returns the progress summary of a batch
// GET /api/v1/batches/:id
func (h *Handler) GetBatch(c *gin.Context) {
	summary, err := h.reporter.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": summary,
	})
}

// ListBatches returns the most recent batches
// GET /api/v1/batches
func (h *Handler) ListBatches(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 20)

	summaries, err := h.reporter.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": summaries,
	})
}

// CancelBatch stops a batch and cancels its unfinished items
// POST /api/v1/batches/:id/cancel
func (h *Handler) CancelBatch(c *gin.Context) {
	batch, err := h.orchestrator.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": progress.Summarize(batch),
	})
}

// ExportBatch returns the CSV export of a completed batch
// GET /api/v1/batches/:id/export
func (h *Handler) ExportBatch(c *gin.Context) {
	id := c.Param("id")
	data, err := h.exporter.Export(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(id)+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// parseIntQuery parses an integer query parameter
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(statusFor(appErr.Code), gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}

func statusFor(code apperrors.ErrCode) int {
	switch code {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeBadRequest:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeNotCompleted, apperrors.ErrCodeConflict, apperrors.ErrCodeInvalidTransition:
		return http.StatusConflict
	case apperrors.ErrCodePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
