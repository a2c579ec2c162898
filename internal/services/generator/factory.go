package generator

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
)

// New creates the content generator selected by llm.provider.
func New(config *common.Config, logger arbor.ILogger) (interfaces.ContentGenerator, error) {
	switch config.LLM.Provider {
	case common.LLMProviderClaude:
		return NewClaudeGenerator(&config.Claude, logger)
	case common.LLMProviderGemini:
		return NewGeminiGenerator(&config.Gemini, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", config.LLM.Provider)
	}
}
