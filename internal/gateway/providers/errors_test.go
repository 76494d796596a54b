package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/sashabaranov/go-openai"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"api error 401", &openai.APIError{HTTPStatusCode: 401}, KindAuth},
		{"api error 403", &openai.APIError{HTTPStatusCode: 403}, KindAuth},
		{"api error 429", &openai.APIError{HTTPStatusCode: 429}, KindRateLimited},
		{"api error 500", &openai.APIError{HTTPStatusCode: 500}, KindUnknown},
		{"request error 401", &openai.RequestError{HTTPStatusCode: 401}, KindAuth},
		{"request error 429", &openai.RequestError{HTTPStatusCode: 429}, KindRateLimited},
		{"url error", &url.Error{Op: "Post", URL: "https://api.openai.com", Err: timeoutErr{}}, KindUnavailable},
		{"net error", timeoutErr{}, KindUnavailable},
		{"deadline exceeded", context.DeadlineExceeded, KindUnavailable},
		{"wrapped deadline", fmt.Errorf("chat: %w", context.DeadlineExceeded), KindUnavailable},
		{"generic", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perr := Classify(tt.err)
			if perr.Kind != tt.want {
				t.Errorf("Classify(%v).Kind = %v, want %v", tt.err, perr.Kind, tt.want)
			}
			if !errors.Is(perr, tt.err) {
				t.Errorf("classified error does not unwrap to the original")
			}
		})
	}
}
