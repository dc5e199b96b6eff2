package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kurihiro0119/content-audit/internal/domain"
	apperrors "github.com/kurihiro0119/content-audit/internal/errors"
)

// Outcome is the result of dispatching one item: either Success or Failure
type Outcome interface {
	isOutcome()
}

// Success carries a validated analysis result
type Success struct {
	Result domain.AnalysisResult
}

// Failure carries a human-readable reason
type Failure struct {
	Reason    string
	Timeout   bool
	Cancelled bool
}

func (Success) isOutcome() {}
func (Failure) isOutcome() {}

// Dispatch runs a single analysis bounded by timeout and folds every error into a Failure.
// A timeout of zero leaves the deadline to ctx.
func Dispatch(ctx context.Context, client Client, req Request, timeout time.Duration) Outcome {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := client.Analyze(callCtx, req)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return Failure{Reason: "analysis cancelled", Cancelled: true}
		case isTimeout(err) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			if timeout > 0 {
				return Failure{Reason: fmt.Sprintf("analysis timed out after %s", timeout), Timeout: true}
			}
			return Failure{Reason: "analysis timed out", Timeout: true}
		default:
			return Failure{Reason: failureReason(err)}
		}
	}

	if result == nil {
		return Failure{Reason: "analysis service returned no result"}
	}
	if err := result.Validate(); err != nil {
		return Failure{Reason: "invalid analysis result: " + err.Error()}
	}
	return Success{Result: *result}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func failureReason(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Err != nil {
			return fmt.Sprintf("%s: %v", appErr.Message, appErr.Err)
		}
		return appErr.Message
	}
	return err.Error()
}
