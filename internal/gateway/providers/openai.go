package providers

import (
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

// Models and generation parameters for the task-specific prompts.
const (
	summarizeModel       = "gpt-3.5-turbo"
	summarizeMaxTokens   = 1500
	summarizeTemperature = 0.5

	translateModel       = "gpt-3.5-turbo"
	translateMaxTokens   = 2000
	translateTemperature = 0.3
)

var summarizeStylePrompts = map[string]string{
	"concise":       "Provide a brief, concise summary.",
	"detailed":      "Provide a comprehensive, detailed summary.",
	"bullet_points": "Provide a summary in bullet points.",
}

// OpenAIProvider implements Provider against the OpenAI API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
	}
}

// Chat makes a chat completion request to OpenAI
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	log.WithFields(log.Fields{
		"model":         req.Model,
		"message_count": len(req.Messages),
		"max_tokens":    req.MaxTokens,
	}).Info("OpenAI chat request")

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, Classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, Classify(fmt.Errorf("empty completion response"))
	}

	log.WithFields(log.Fields{
		"model":             resp.Model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Info("OpenAI chat response")

	return &ChatResponse{
		Message: ChatMessage{Role: "assistant", Content: resp.Choices[0].Message.Content},
		Model:   resp.Model,
		Usage:   resp.Usage,
	}, nil
}

// ChatStream opens a streaming chat completion against OpenAI.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest) (StreamReader, error) {
	log.WithFields(log.Fields{
		"model":         req.Model,
		"message_count": len(req.Messages),
	}).Info("OpenAI streaming chat request")

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, Classify(err)
	}

	return &openAIStreamReader{stream: stream}, nil
}

// openAIStreamReader adapts OpenAI's stream to content deltas.
type openAIStreamReader struct {
	stream *openai.ChatCompletionStream
}

// Recv returns the next non-empty content delta, or io.EOF at the end.
func (r *openAIStreamReader) Recv() (string, error) {
	for {
		chunk, err := r.stream.Recv()
		if err == io.EOF {
			return "", io.EOF
		}
		if err != nil {
			return "", Classify(err)
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return chunk.Choices[0].Delta.Content, nil
		}
	}
}

// Close closes the stream
func (r *openAIStreamReader) Close() error {
	r.stream.Close()
	return nil
}

// Summarize asks the model for a summary in the requested style.
func (p *OpenAIProvider) Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error) {
	log.WithFields(log.Fields{
		"text_length": utf8.RuneCountInString(req.Text),
		"max_length":  req.MaxLength,
		"style":       req.Style,
	}).Info("summarize request")

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: summarizeModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarizeSystemPrompt(req.Style, req.MaxLength)},
			{Role: openai.ChatMessageRoleUser, Content: "Summarize the following text:\n\n" + req.Text},
		},
		MaxTokens:   summarizeMaxTokens,
		Temperature: summarizeTemperature,
	})
	if err != nil {
		return nil, Classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, Classify(fmt.Errorf("empty completion response"))
	}

	out := newSummarizeResponse(req, resp.Choices[0].Message.Content, resp.Model, resp.Usage)

	log.WithFields(log.Fields{
		"original_length": out.OriginalLength,
		"summary_length":  out.SummaryLength,
		"total_tokens":    out.Usage.TotalTokens,
	}).Info("summarize response")

	return out, nil
}

// Translate asks the model for a translation, detecting the source
// language when the request says "auto".
func (p *OpenAIProvider) Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error) {
	log.WithFields(log.Fields{
		"text_length":     utf8.RuneCountInString(req.Text),
		"source_language": req.SourceLanguage,
		"target_language": req.TargetLanguage,
	}).Info("translate request")

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: translateModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: translateSystemPrompt(req.SourceLanguage, req.TargetLanguage)},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
		MaxTokens:   translateMaxTokens,
		Temperature: translateTemperature,
	})
	if err != nil {
		return nil, Classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, Classify(fmt.Errorf("empty completion response"))
	}

	out := newTranslateResponse(req, resp.Choices[0].Message.Content, resp.Model, resp.Usage)

	log.WithFields(log.Fields{
		"source_language": out.SourceLanguage,
		"target_language": out.TargetLanguage,
		"total_tokens":    out.Usage.TotalTokens,
	}).Info("translate response")

	return out, nil
}

func toOpenAIMessages(msgs []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func summarizeSystemPrompt(style string, maxLength int) string {
	return fmt.Sprintf(`You are a professional summarizer. %s
Keep the summary under %d words. Focus on key points and main ideas.`, summarizeStylePrompts[style], maxLength)
}

func translateSystemPrompt(source, target string) string {
	if source == "auto" {
		return fmt.Sprintf(`You are a professional translator.
Detect the source language and translate the text to %s.
Only output the translation, nothing else.`, target)
	}
	return fmt.Sprintf(`You are a professional translator.
Translate the text from %s to %s.
Only output the translation, nothing else.`, source, target)
}

// resolvedSourceLanguage is what the response reports as the source:
// the requested language, or "auto-detected" when detection was asked for.
func resolvedSourceLanguage(source string) string {
	if source == "auto" {
		return "auto-detected"
	}
	return source
}

func newSummarizeResponse(req SummarizeRequest, summary, model string, usage openai.Usage) *SummarizeResponse {
	return &SummarizeResponse{
		Summary:        summary,
		OriginalLength: utf8.RuneCountInString(req.Text),
		SummaryLength:  utf8.RuneCountInString(summary),
		Model:          model,
		Usage:          usage,
	}
}

func newTranslateResponse(req TranslateRequest, translated, model string, usage openai.Usage) *TranslateResponse {
	return &TranslateResponse{
		TranslatedText: translated,
		SourceLanguage: resolvedSourceLanguage(req.SourceLanguage),
		TargetLanguage: req.TargetLanguage,
		Model:          model,
		Usage:          usage,
	}
}
