package llm

import (
	"fmt"
	"time"

	"github.com/ehrlich-b/perch/internal/config"
)

// New builds the provider named by cfg, wrapped with a rate limiter
// when requests_per_minute is set.
func New(cfg config.LLMConfig) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "anthropic":
		p = NewAnthropicProvider(cfg.APIKey, cfg.BaseURL)
	case "openai":
		p = NewOpenAIProvider(cfg.APIKey, cfg.BaseURL)
	case "dummy":
		p = NewDummyProvider(200 * time.Millisecond)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if cfg.RequestsPerMinute > 0 {
		p = Limit(p, cfg.RequestsPerMinute)
	}
	return p, nil
}

// NewTestProvider returns a fast dummy provider for tests.
func NewTestProvider() Provider {
	return NewDummyProvider(time.Millisecond)
}
