package interfaces

import (
	"context"
	"time"

	"github.com/brandmill/maestro/internal/models"
)

// UsageRecord captures one metered resource consumption to append to the
// ledger.
type UsageRecord struct {
	CallerID         string
	JobID            string
	ResourceType     models.ResourceType
	Cost             float64
	TokensUsed       int
	PromptTokens     int
	CompletionTokens int
	WebSearchCalls   int
	FileSearchCalls  int
	ModelUsed        string
	Description      string
}

// LimitUpdate carries the create-or-update fields for a caller's budget
// limit record. Nil limits clear the corresponding window.
type LimitUpdate struct {
	DailyLimitUSD           *float64
	MonthlyLimitUSD         *float64
	TotalLimitUSD           *float64
	WarningThresholdPercent float64
}

// BudgetService is the append-only spend ledger and advisory limit check.
// CheckLimit reports violations after the fact; it does not gate dispatch.
type BudgetService interface {
	RecordUsage(ctx context.Context, record *UsageRecord) (*models.BudgetEntry, error)
	UsageSummary(ctx context.Context, callerID string, start, end *time.Time) (*models.UsageSummary, error)
	UsageSummaryForPeriod(ctx context.Context, callerID, period string) (*models.UsageSummary, error)
	CheckLimit(ctx context.Context, callerID string) (*models.BudgetStatus, error)
	GetLimit(ctx context.Context, callerID string) (*models.BudgetLimit, error)
	SetLimit(ctx context.Context, callerID string, update *LimitUpdate) (*models.BudgetLimit, error)
}
