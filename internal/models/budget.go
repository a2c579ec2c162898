// -----------------------------------------------------------------------
// Budget Ledger - immutable usage entries and per-caller spend limits
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResourceType identifies a category of metered external resource.
type ResourceType string

const (
	ResourceTypeChatCompletion  ResourceType = "chat_completion"
	ResourceTypeWebSearch       ResourceType = "web_search"
	ResourceTypeFileSearch      ResourceType = "file_search"
	ResourceTypeImageGeneration ResourceType = "image_generation"
	ResourceTypeEmbedding       ResourceType = "embedding"
)

// BudgetEntry records one unit of metered resource consumption. Entries are
// append-only and never mutated after they are written.
type BudgetEntry struct {
	ID           string       `json:"id" badgerhold:"key"`
	CallerID     string       `json:"caller_id" badgerholdIndex:"CallerID"`
	JobID        string       `json:"job_id,omitempty"`
	ResourceType ResourceType `json:"resource_type"`

	Cost             float64 `json:"cost"`
	TokensUsed       int     `json:"tokens_used"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	WebSearchCalls   int     `json:"web_search_calls"`
	FileSearchCalls  int     `json:"file_search_calls"`

	ModelUsed   string    `json:"model_used,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewBudgetEntry creates an entry with a fresh ID and timestamp.
func NewBudgetEntry(callerID, jobID string, resourceType ResourceType, cost float64, tokensUsed int) *BudgetEntry {
	return &BudgetEntry{
		ID:           uuid.New().String(),
		CallerID:     callerID,
		JobID:        jobID,
		ResourceType: resourceType,
		Cost:         cost,
		TokensUsed:   tokensUsed,
		CreatedAt:    time.Now().UTC(),
	}
}

// Validate checks required entry fields.
func (e *BudgetEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entry ID is required")
	}
	if e.CallerID == "" {
		return fmt.Errorf("caller ID is required")
	}
	if e.ResourceType == "" {
		return fmt.Errorf("resource type is required")
	}
	if e.Cost < 0 {
		return fmt.Errorf("cost cannot be negative")
	}
	return nil
}

// BudgetLimit defines the active spend limits for one caller. At most one
// record exists per caller; SetLimit upserts it.
type BudgetLimit struct {
	CallerID                string     `json:"caller_id" badgerhold:"key"`
	DailyLimitUSD           *float64   `json:"daily_limit_usd,omitempty"`
	MonthlyLimitUSD         *float64   `json:"monthly_limit_usd,omitempty"`
	TotalLimitUSD           *float64   `json:"total_limit_usd,omitempty"`
	WarningThresholdPercent float64    `json:"warning_threshold_percent"`
	IsActive                bool       `json:"is_active"`
	UpdatedAt               time.Time  `json:"updated_at"`
	CreatedAt               time.Time  `json:"created_at"`
	DeactivatedAt           *time.Time `json:"deactivated_at,omitempty"`
}

// UsageSummary aggregates ledger entries over a time window.
type UsageSummary struct {
	TotalCalls       int     `json:"total_calls"`
	TotalCostUSD     float64 `json:"total_cost_usd"`
	TotalTokens      int     `json:"total_tokens"`
	TotalWebSearches int     `json:"total_web_searches"`
	TotalFileSearch  int     `json:"total_file_searches"`
	Period           string  `json:"period,omitempty"`
}

// BudgetViolation describes one exceeded or near-exceeded limit window.
type BudgetViolation struct {
	Window   string  `json:"window"` // "daily", "monthly", "total"
	Level    string  `json:"level"`  // "exceeded" or "warning"
	UsedUSD  float64 `json:"used_usd"`
	LimitUSD float64 `json:"limit_usd"`
}

// BudgetStatus is the advisory limit-check result. It reports violations but
// does not by itself block execution.
type BudgetStatus struct {
	WithinBudget bool               `json:"within_budget"`
	Violations   []BudgetViolation  `json:"violations"`
	Usage        map[string]float64 `json:"usage"`  // window -> USD spent
	Limits       map[string]float64 `json:"limits"` // window -> configured limit
}
