package providers

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries validated chat parameters to a provider.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
}

// ChatResponse is the assistant's reply plus token accounting.
type ChatResponse struct {
	Message ChatMessage  `json:"message"`
	Model   string       `json:"model"`
	Usage   openai.Usage `json:"usage"`
}

// SummarizeRequest carries validated summarization parameters.
type SummarizeRequest struct {
	Text      string `json:"text"`
	MaxLength int    `json:"max_length"`
	Style     string `json:"style"`
}

// SummarizeResponse reports the summary and the character counts of
// both the original text and the summary.
type SummarizeResponse struct {
	Summary        string       `json:"summary"`
	OriginalLength int          `json:"original_length"`
	SummaryLength  int          `json:"summary_length"`
	Model          string       `json:"model"`
	Usage          openai.Usage `json:"usage"`
}

// TranslateRequest carries validated translation parameters.
// SourceLanguage may be "auto" to request detection.
type TranslateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// TranslateResponse reports the translation. SourceLanguage is the
// detected or specified source, never the literal "auto".
type TranslateResponse struct {
	TranslatedText string       `json:"translated_text"`
	SourceLanguage string       `json:"source_language"`
	TargetLanguage string       `json:"target_language"`
	Model          string       `json:"model"`
	Usage          openai.Usage `json:"usage"`
}

// StreamReader yields incremental content deltas from a streaming chat
// completion. Recv returns io.EOF when the stream is complete.
type StreamReader interface {
	Recv() (string, error)
	Close() error
}

// Provider is the interface all AI providers must implement. Adding a
// provider means adding an implementer and a case in New, never
// touching call sites.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest) (StreamReader, error)
	Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error)
	Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error)
}
