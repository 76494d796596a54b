package providers

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sashabaranov/go-openai"
)

// Kind classifies an upstream provider failure into the caller-visible
// outcomes the handlers map to response statuses.
type Kind int

const (
	// KindUnknown covers any failure not otherwise classified. Full
	// detail is logged server-side; callers see an opaque message.
	KindUnknown Kind = iota
	// KindAuth means the upstream rejected our provider credential.
	// A gateway configuration problem, surfaced as a server error.
	KindAuth
	// KindRateLimited means the upstream throttled us. Retryable later.
	KindRateLimited
	// KindUnavailable means the upstream could not be reached. Retryable.
	KindUnavailable
)

// Error is a classified upstream provider failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify wraps an upstream client error with its failure kind.
func Classify(err error) *Error {
	return &Error{Kind: classifyKind(err), Err: err}
}

func classifyKind(err error) Kind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return kindFromStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return kindFromStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}

	return KindUnknown
}

func kindFromStatus(status int) Kind {
	switch status {
	case 401, 403:
		return KindAuth
	case 429:
		return KindRateLimited
	default:
		return KindUnknown
	}
}
