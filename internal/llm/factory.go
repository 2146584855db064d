package llm

import (
	"context"
	"fmt"

	"adherence-guardian/internal/config"
)

// New builds the configured generator. This is the only place that knows
// about provider names.
func New(ctx context.Context, cfg config.LLMConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropic(ctx, cfg)
	case "gemini":
		return NewGemini(ctx, cfg)
	case "deepseek":
		return NewDeepSeek(cfg)
	case "offline", "":
		return Offline{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
