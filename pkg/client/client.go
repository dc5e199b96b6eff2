package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/content-audit/internal/domain"
)

// Client is the API client for the content-audit service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response decoded from the error envelope
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %d %s - %s", e.StatusCode, e.Code, e.Message)
}

// CreateBatchRequest is the body sent to create a batch
type CreateBatchRequest struct {
	Name          string           `json:"name,omitempty"`
	Items         []domain.NewItem `json:"items"`
	TargetKeyword string           `json:"target_keyword,omitempty"`
	Start         *bool            `json:"start,omitempty"`
}

// CreatedBatch is the response of a create call
type CreatedBatch struct {
	BatchID string             `json:"batch_id"`
	Name    string             `json:"name"`
	Status  domain.BatchStatus `json:"status"`
}

// CreateBatch submits a new batch
func (c *Client) CreateBatch(ctx context.Context, req CreateBatchRequest) (*CreatedBatch, error) {
	var response struct {
		Data *CreatedBatch `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/batches", nil, req, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// RunBatch starts or resumes a batch on the server
func (c *Client) RunBatch(ctx context.Context, batchID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/batches/"+url.PathEscape(batchID)+"/run", nil, nil, nil)
}

// GetStatus retrieves the progress summary of a batch
func (c *Client) GetStatus(ctx context.Context, batchID string) (*domain.BatchSummary, error) {
	var response struct {
		Data *domain.BatchSummary `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/batches/"+url.PathEscape(batchID), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// ListBatches retrieves the most recent batches
func (c *Client) ListBatches(ctx context.Context, limit int) ([]*domain.BatchSummary, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.BatchSummary `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/batches", params, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// CancelBatch cancels a batch
func (c *Client) CancelBatch(ctx context.Context, batchID string) (*domain.BatchSummary, error) {
	var response struct {
		Data *domain.BatchSummary `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/batches/"+url.PathEscape(batchID)+"/cancel", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// Export downloads the CSV export of a completed batch
func (c *Client) Export(ctx context.Context, batchID string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.do(ctx, http.MethodGet, "/api/v1/batches/"+url.PathEscape(batchID)+"/export", nil, nil, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

// do sends a request; a *bytes.Buffer result receives the raw body, anything else is decoded as JSON
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	switch r := result.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(r, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(result)
	}
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return &APIError{StatusCode: resp.StatusCode, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
}
