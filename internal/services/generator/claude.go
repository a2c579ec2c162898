// -----------------------------------------------------------------------
// Claude Generator - content generation via the Anthropic Messages API
// -----------------------------------------------------------------------

package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/services/budget"
)

// ClaudeGenerator implements interfaces.ContentGenerator using the
// Anthropic Claude API.
type ClaudeGenerator struct {
	config  *common.ClaudeConfig
	logger  arbor.ILogger
	client  anthropic.Client
	timeout time.Duration
}

// NewClaudeGenerator creates a Claude-backed content generator.
func NewClaudeGenerator(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeGenerator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or claude.api_key in config)")
	}

	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 8192
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid claude timeout %q: %w", config.Timeout, err)
	}

	g := &ClaudeGenerator{
		config:  config,
		logger:  logger,
		client:  anthropic.NewClient(option.WithAPIKey(config.APIKey)),
		timeout: timeout,
	}

	logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Int("max_tokens", config.MaxTokens).
		Msg("Claude generator initialized")

	return g, nil
}

// Generate runs one agent command against the Claude API, reporting stage
// progress through the sink.
func (g *ClaudeGenerator) Generate(ctx context.Context, req *interfaces.GenerationRequest, progress interfaces.ProgressSink) (*interfaces.GenerationResult, error) {
	genCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	system, user := buildPrompts(req)
	progress.SetStage("Building prompt", 10)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.config.Model),
		MaxTokens: int64(g.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if g.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(g.config.Temperature))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	progress.SetStage("Generating content", 30)
	progress.Thinking(fmt.Sprintf("Calling %s...", g.config.Model))

	resp, err := g.client.Messages.New(genCtx, params)
	if err != nil {
		if genCtx.Err() != nil {
			return nil, genCtx.Err()
		}
		return nil, fmt.Errorf("Claude API call failed: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return nil, fmt.Errorf("no response generated from Claude API")
	}

	progress.SetStage("Finalizing", 90)

	promptTokens := int(resp.Usage.InputTokens)
	completionTokens := int(resp.Usage.OutputTokens)

	result := &interfaces.GenerationResult{
		Content: map[string]interface{}{
			"content":    content.String(),
			"agent_type": string(req.AgentType),
			"command":    req.Command,
		},
		ModelUsed:        g.config.Model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TokensUsed:       promptTokens + completionTokens,
		Cost:             budget.CalculateChatCost(g.config.Model, promptTokens, completionTokens),
	}

	g.logger.Debug().
		Str("model", g.config.Model).
		Int("prompt_tokens", promptTokens).
		Int("completion_tokens", completionTokens).
		Float64("cost", result.Cost).
		Msg("Claude generation completed")

	return result, nil
}
