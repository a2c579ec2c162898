// -----------------------------------------------------------------------
// Gemini Generator - content generation via the Google Gemini API
// -----------------------------------------------------------------------

package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/services/budget"
)

// GeminiGenerator implements interfaces.ContentGenerator using the Google
// Gemini API.
type GeminiGenerator struct {
	config  *common.GeminiConfig
	logger  arbor.ILogger
	client  *genai.Client
	timeout time.Duration
}

// NewGeminiGenerator creates a Gemini-backed content generator.
func NewGeminiGenerator(config *common.GeminiConfig, logger arbor.ILogger) (*GeminiGenerator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Google API key is required (set GEMINI_API_KEY or gemini.api_key in config)")
	}

	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid gemini timeout %q: %w", config.Timeout, err)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	g := &GeminiGenerator{
		config:  config,
		logger:  logger,
		client:  client,
		timeout: timeout,
	}

	logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Msg("Gemini generator initialized")

	return g, nil
}

// Generate runs one agent command against the Gemini API, reporting stage
// progress through the sink.
func (g *GeminiGenerator) Generate(ctx context.Context, req *interfaces.GenerationRequest, progress interfaces.ProgressSink) (*interfaces.GenerationResult, error) {
	genCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	system, user := buildPrompts(req)
	progress.SetStage("Building prompt", 10)

	genConfig := &genai.GenerateContentConfig{}
	if g.config.Temperature > 0 {
		genConfig.Temperature = genai.Ptr(g.config.Temperature)
	}
	if system != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(system)},
		}
	}

	progress.SetStage("Generating content", 30)
	progress.Thinking(fmt.Sprintf("Calling %s...", g.config.Model))

	resp, err := g.client.Models.GenerateContent(genCtx, g.config.Model, []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{genai.NewPartFromText(user)},
		},
	}, genConfig)
	if err != nil {
		if genCtx.Err() != nil {
			return nil, genCtx.Err()
		}
		return nil, fmt.Errorf("Gemini API call failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("no response generated from Gemini API")
	}

	progress.SetStage("Finalizing", 90)

	var promptTokens, completionTokens int
	if resp.UsageMetadata != nil {
		promptTokens = int(resp.UsageMetadata.PromptTokenCount)
		completionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	result := &interfaces.GenerationResult{
		Content: map[string]interface{}{
			"content":    text,
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
		Msg("Gemini generation completed")

	return result, nil
}
