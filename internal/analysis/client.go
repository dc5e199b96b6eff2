package analysis

import (
	"context"

	"github.com/kurihiro0119/content-audit/internal/domain"
)

// Request is one content item submitted for audit
type Request struct {
	Input         string `json:"input"`
	TargetKeyword string `json:"target_keyword"`
}

// Client defines the interface of the external analysis service.
// Implementations own their retry policy; callers never retry.
type Client interface {
	// Analyze audits one URL or block of raw text
	Analyze(ctx context.Context, req Request) (*domain.AnalysisResult, error)
}

// ClientFunc adapts a plain function to the Client interface
type ClientFunc func(ctx context.Context, req Request) (*domain.AnalysisResult, error)

// Analyze calls f
func (f ClientFunc) Analyze(ctx context.Context, req Request) (*domain.AnalysisResult, error) {
	return f(ctx, req)
}
