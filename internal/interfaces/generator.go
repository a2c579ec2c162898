package interfaces

import (
	"context"

	"github.com/brandmill/maestro/internal/models"
)

// GenerationRequest describes one content-generation command for an agent
// capability.
type GenerationRequest struct {
	AgentType  models.AgentType
	Command    string
	Parameters map[string]interface{}
}

// GenerationResult is the generator's output plus the resource usage it
// incurred. Usage is recorded to the budget ledger by the execution path.
type GenerationResult struct {
	Content          map[string]interface{}
	ModelUsed        string
	PromptTokens     int
	CompletionTokens int
	TokensUsed       int
	Cost             float64
	WebSearchCalls   int
	FileSearchCalls  int
}

// ProgressSink receives progress from a running generation. Implementations
// must tolerate being called from the generator's goroutine.
type ProgressSink interface {
	SetProgress(pct int, message string)
	SetStage(name string, pct int)
	Thinking(message string)
	StreamChunk(chunk string)
}

// ContentGenerator is the external collaborator that produces generated
// content. Implementations must honor context cancellation between calls.
type ContentGenerator interface {
	Generate(ctx context.Context, req *GenerationRequest, progress ProgressSink) (*GenerationResult, error)
}
