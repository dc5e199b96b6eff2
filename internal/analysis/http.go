package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kurihiro0119/content-audit/internal/domain"
	apperrors "github.com/kurihiro0119/content-audit/internal/errors"
)

const analyzePath = "/api/analyze"

// HTTPConfig configures the HTTP analysis client
type HTTPConfig struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	MinDelay time.Duration
}

// httpClient implements Client against the content audit HTTP API
type httpClient struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHTTPClient creates a new analysis client. The base URL is explicit; there is no
// process-wide default.
func NewHTTPClient(cfg HTTPConfig) Client {
	hc := &http.Client{}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: cfg.Token},
		)
		hc = oauth2.NewClient(context.Background(), ts)
	}
	hc.Timeout = cfg.Timeout

	return &httpClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  hc,
		rateLimiter: NewRateLimiter(cfg.MinDelay),
		now:         time.Now,
	}
}

type scoreField struct {
	Score *float64 `json:"score"`
}

type analyzeResponse struct {
	InputType       string      `json:"input_type"`
	WordCount       int         `json:"word_count"`
	TargetKeyword   string      `json:"target_keyword"`
	OverallScore    *float64    `json:"overall_score"`
	SEO             *scoreField `json:"seo"`
	SERP            *scoreField `json:"serp_performance"`
	AEO             *scoreField `json:"aeo"`
	Humanization    *scoreField `json:"humanization"`
	Differentiation *scoreField `json:"differentiation"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Analyze posts one item to the analysis service
func (c *httpClient) Analyze(ctx context.Context, req Request) (*domain.AnalysisResult, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.NewInternalError("encode analysis request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzePath, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewInternalError("build analysis request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.rateLimiter.BlockUntil(c.now().Add(retryAfter(resp.Header.Get("Retry-After"))))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewAnalysisError(
			fmt.Sprintf("analysis service returned %d", resp.StatusCode),
			errors.New(errorMessage(resp.Body, resp.Status)),
		)
	}

	var decoded analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperrors.NewAnalysisError("decode analysis response", err)
	}
	if decoded.OverallScore == nil {
		return nil, apperrors.NewAnalysisError("analysis response missing overall_score", nil)
	}

	dims, err := decoded.dimensions()
	if err != nil {
		return nil, err
	}

	return &domain.AnalysisResult{
		OverallScore:  roundScore(*decoded.OverallScore),
		Dimensions:    dims,
		InputType:     decoded.InputType,
		WordCount:     decoded.WordCount,
		TargetKeyword: decoded.TargetKeyword,
	}, nil
}

// dimensions requires every dimension score; an absent one is not a zero
func (r analyzeResponse) dimensions() (domain.DimensionScores, error) {
	var dims domain.DimensionScores
	fields := []struct {
		name  string
		field *scoreField
		dst   *int
	}{
		{"seo", r.SEO, &dims.SEO},
		{"serp_performance", r.SERP, &dims.SERP},
		{"aeo", r.AEO, &dims.AEO},
		{"humanization", r.Humanization, &dims.Humanization},
		{"differentiation", r.Differentiation, &dims.Differentiation},
	}
	for _, f := range fields {
		if f.field == nil || f.field.Score == nil {
			return domain.DimensionScores{}, apperrors.NewAnalysisError("analysis response missing "+f.name+" score", nil)
		}
		*f.dst = roundScore(*f.field.Score)
	}
	return dims, nil
}

// roundScore converts the service's one-decimal float to the integer score
func roundScore(v float64) int {
	return int(math.Round(v))
}

func errorMessage(body io.Reader, status string) string {
	raw, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(raw) == 0 {
		return status
	}
	var decoded errorResponse
	if json.Unmarshal(raw, &decoded) == nil && decoded.Error != "" {
		return decoded.Error
	}
	return strings.TrimSpace(string(raw))
}

// retryAfter parses a Retry-After header in seconds, defaulting to one minute
func retryAfter(value string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return time.Minute
}
