package providers

import (
	"fmt"

	"github.com/loschvladislav/ai-service/internal/shared/config"
)

// New returns the provider selected by configuration.
func New(cfg *config.Config) (Provider, error) {
	switch cfg.AIProvider {
	case "openai":
		return NewOpenAIProvider(cfg.OpenAIAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown AI provider: %s", cfg.AIProvider)
	}
}
