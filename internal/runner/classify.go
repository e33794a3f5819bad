package runner

import (
	"context"
	"errors"
	"strings"

	"github.com/hiddenhill/papervid-backend/internal/types"
)

// ClassifyError maps an error to one of the error type constants. Matching
// is most-specific-first over the full wrapped message, so a pipeline error
// whose cause is a missing paper still classifies as paper_not_found.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrTypeTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not available in pubmed central"),
		strings.Contains(msg, "paper not found"):
		return types.ErrTypePaperNotFound
	case strings.Contains(msg, "api key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "unauthorized"):
		return types.ErrTypeAPIKey
	case strings.Contains(msg, "timed out"),
		strings.Contains(msg, "timeout"):
		return types.ErrTypeTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "quota"):
		return types.ErrTypeRateLimit
	case strings.Contains(msg, "pipeline") && strings.Contains(msg, "failed"):
		return types.ErrTypePipeline
	case strings.Contains(msg, "task"):
		return types.ErrTypeTask
	default:
		return types.ErrTypeUnknown
	}
}

// IsRetryable reports whether a whole-job retry can plausibly help. Input
// errors, bad credentials and definitive pipeline failures are terminal;
// rate limits and unclassified blips get another attempt.
func IsRetryable(errType string) bool {
	switch errType {
	case types.ErrTypeRateLimit, types.ErrTypeUnknown, types.ErrTypeTask:
		return true
	default:
		return false
	}
}
