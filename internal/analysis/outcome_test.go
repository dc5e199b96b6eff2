package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/content-audit/internal/domain"
)

func TestDispatchSuccess(t *testing.T) {
	client := ClientFunc(func(ctx context.Context, req Request) (*domain.AnalysisResult, error) {
		return &domain.AnalysisResult{OverallScore: 91}, nil
	})

	outcome := Dispatch(context.Background(), client, Request{Input: "https://a.test"}, time.Second)
	success, ok := outcome.(Success)
	require.True(t, ok)
	assert.Equal(t, 91, success.Result.OverallScore)
}

func TestDispatchFailures(t *testing.T) {
	tests := []struct {
		name   string
		client ClientFunc
		reason string
	}{
		{
			name: "error",
			client: func(ctx context.Context, req Request) (*domain.AnalysisResult, error) {
				return nil, errors.New("connection refused")
			},
			reason: "connection refused",
		},
		{
			name: "nil result",
			client: func(ctx context.Context, req Request) (*domain.AnalysisResult, error) {
				return nil, nil
			},
			reason: "analysis service returned no result",
		},
		{
			name: "score out of range",
			client: func(ctx context.Context, req Request) (*domain.AnalysisResult, error) {
				return &domain.AnalysisResult{OverallScore: 140}, nil
			},
			reason: "invalid analysis result: overall_score out of range: 140",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := Dispatch(context.Background(), tt.client, Request{}, time.Second)
			failure, ok := outcome.(Failure)
			require.True(t, ok)
			assert.Equal(t, tt.reason, failure.Reason)
			assert.False(t, failure.Timeout)
		})
	}
}

func TestDispatchTimeout(t *testing.T) {
	client := ClientFunc(func(ctx context.Context, req Request) (*domain.AnalysisResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	outcome := Dispatch(context.Background(), client, Request{}, 20*time.Millisecond)
	failure, ok := outcome.(Failure)
	require.True(t, ok)
	assert.True(t, failure.Timeout)
	assert.False(t, failure.Cancelled)
}

func TestDispatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := ClientFunc(func(callCtx context.Context, req Request) (*domain.AnalysisResult, error) {
		cancel()
		<-callCtx.Done()
		return nil, callCtx.Err()
	})

	outcome := Dispatch(ctx, client, Request{}, time.Second)
	failure, ok := outcome.(Failure)
	require.True(t, ok)
	assert.True(t, failure.Cancelled)
}

func TestRateLimiterSpacing(t *testing.T) {
	limiter := NewRateLimiter(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	limiter := NewRateLimiter(0)
	limiter.BlockUntil(time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.DeadlineExceeded)
}
