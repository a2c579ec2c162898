// -----------------------------------------------------------------------
// Budget Service - append-only spend ledger and advisory limit checks
// -----------------------------------------------------------------------

package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
)

// Service implements interfaces.BudgetService. Entries are immutable once
// written; every summary is recomputed from the ledger on demand so
// re-aggregation is idempotent.
//
// CheckLimit is advisory only: it reports violations after the fact and
// never blocks dispatch itself. Gating job creation on the check was left
// to callers deliberately.
type Service struct {
	storage interfaces.BudgetStorage
	config  *common.BudgetConfig
	logger  arbor.ILogger
}

// NewService creates a budget service over the given storage backend.
func NewService(storage interfaces.BudgetStorage, config *common.BudgetConfig, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		config:  config,
		logger:  logger,
	}
}

// RecordUsage appends one usage record to the ledger.
func (s *Service) RecordUsage(ctx context.Context, record *interfaces.UsageRecord) (*models.BudgetEntry, error) {
	if record == nil {
		return nil, fmt.Errorf("usage record is required")
	}

	entry := &models.BudgetEntry{
		ID:               uuid.New().String(),
		CallerID:         record.CallerID,
		JobID:            record.JobID,
		ResourceType:     record.ResourceType,
		Cost:             record.Cost,
		TokensUsed:       record.TokensUsed,
		PromptTokens:     record.PromptTokens,
		CompletionTokens: record.CompletionTokens,
		WebSearchCalls:   record.WebSearchCalls,
		FileSearchCalls:  record.FileSearchCalls,
		ModelUsed:        record.ModelUsed,
		Description:      record.Description,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.storage.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("caller_id", entry.CallerID).
		Str("resource_type", string(entry.ResourceType)).
		Float64("cost", entry.Cost).
		Int("tokens", entry.TokensUsed).
		Msg("Usage recorded")

	return entry, nil
}

// TrackChatCompletion records a chat completion with cost derived from the
// pricing table.
func (s *Service) TrackChatCompletion(ctx context.Context, callerID, jobID, model string, promptTokens, completionTokens int) (*models.BudgetEntry, error) {
	return s.RecordUsage(ctx, &interfaces.UsageRecord{
		CallerID:         callerID,
		JobID:            jobID,
		ResourceType:     models.ResourceTypeChatCompletion,
		Cost:             CalculateChatCost(model, promptTokens, completionTokens),
		TokensUsed:       promptTokens + completionTokens,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		ModelUsed:        model,
		Description:      fmt.Sprintf("Chat completion with %s", model),
	})
}

// TrackSearchCalls records web and file search usage.
func (s *Service) TrackSearchCalls(ctx context.Context, callerID, jobID string, webSearchCalls, fileSearchCalls int) (*models.BudgetEntry, error) {
	resourceType := models.ResourceTypeWebSearch
	if webSearchCalls == 0 && fileSearchCalls > 0 {
		resourceType = models.ResourceTypeFileSearch
	}
	return s.RecordUsage(ctx, &interfaces.UsageRecord{
		CallerID:        callerID,
		JobID:           jobID,
		ResourceType:    resourceType,
		Cost:            CalculateSearchCost(webSearchCalls, fileSearchCalls),
		WebSearchCalls:  webSearchCalls,
		FileSearchCalls: fileSearchCalls,
		Description:     fmt.Sprintf("Search calls: %d web, %d file", webSearchCalls, fileSearchCalls),
	})
}

// UsageSummary aggregates ledger entries for a caller over a time window.
// Nil bounds leave the window open on that side.
func (s *Service) UsageSummary(ctx context.Context, callerID string, start, end *time.Time) (*models.UsageSummary, error) {
	entries, err := s.storage.EntriesForCaller(ctx, callerID, start, end)
	if err != nil {
		return nil, err
	}

	summary := &models.UsageSummary{}
	for _, entry := range entries {
		summary.TotalCalls++
		summary.TotalCostUSD += entry.Cost
		summary.TotalTokens += entry.TokensUsed
		summary.TotalWebSearches += entry.WebSearchCalls
		summary.TotalFileSearch += entry.FileSearchCalls
	}

	return summary, nil
}

// UsageSummaryForPeriod aggregates over a named period: day, week, month,
// or all.
func (s *Service) UsageSummaryForPeriod(ctx context.Context, callerID, period string) (*models.UsageSummary, error) {
	var start *time.Time
	now := time.Now().UTC()

	switch period {
	case "day":
		t := startOfDay(now)
		start = &t
	case "week":
		t := startOfDay(now).AddDate(0, 0, -int(now.Weekday()))
		start = &t
	case "month":
		t := startOfMonth(now)
		start = &t
	case "all", "":
		period = "all"
	default:
		return nil, fmt.Errorf("unknown period: %s", period)
	}

	summary, err := s.UsageSummary(ctx, callerID, start, nil)
	if err != nil {
		return nil, err
	}
	summary.Period = period
	return summary, nil
}

// GetLimit returns the caller's active limit record, or nil when none is
// configured.
func (s *Service) GetLimit(ctx context.Context, callerID string) (*models.BudgetLimit, error) {
	return s.storage.GetLimit(ctx, callerID)
}

// SetLimit creates or updates the single active limit record for a caller.
func (s *Service) SetLimit(ctx context.Context, callerID string, update *interfaces.LimitUpdate) (*models.BudgetLimit, error) {
	if callerID == "" {
		return nil, fmt.Errorf("caller ID is required")
	}
	if update == nil {
		return nil, fmt.Errorf("limit update is required")
	}

	now := time.Now().UTC()
	limit, err := s.storage.GetLimit(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if limit == nil {
		limit = &models.BudgetLimit{
			CallerID:  callerID,
			CreatedAt: now,
		}
	}

	limit.DailyLimitUSD = update.DailyLimitUSD
	limit.MonthlyLimitUSD = update.MonthlyLimitUSD
	limit.TotalLimitUSD = update.TotalLimitUSD
	limit.WarningThresholdPercent = update.WarningThresholdPercent
	if limit.WarningThresholdPercent <= 0 {
		limit.WarningThresholdPercent = s.config.DefaultWarningThresholdPercent
	}
	limit.IsActive = true
	limit.UpdatedAt = now

	if err := s.storage.SaveLimit(ctx, limit); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("caller_id", callerID).
		Float64("warning_threshold", limit.WarningThresholdPercent).
		Msg("Budget limit updated")

	return limit, nil
}

// CheckLimit computes the advisory budget status for a caller. Windows are
// anchored at UTC start-of-day and start-of-month; the total window spans
// the whole ledger. A violation is reported when usage meets or exceeds
// the configured limit, a warning when it crosses the threshold percent.
func (s *Service) CheckLimit(ctx context.Context, callerID string) (*models.BudgetStatus, error) {
	status := &models.BudgetStatus{
		WithinBudget: true,
		Violations:   []models.BudgetViolation{},
		Usage:        make(map[string]float64),
		Limits:       make(map[string]float64),
	}

	limit, err := s.storage.GetLimit(ctx, callerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	dayStart := startOfDay(now)
	monthStart := startOfMonth(now)

	daily, err := s.UsageSummary(ctx, callerID, &dayStart, nil)
	if err != nil {
		return nil, err
	}
	monthly, err := s.UsageSummary(ctx, callerID, &monthStart, nil)
	if err != nil {
		return nil, err
	}
	total, err := s.UsageSummary(ctx, callerID, nil, nil)
	if err != nil {
		return nil, err
	}

	status.Usage["daily"] = daily.TotalCostUSD
	status.Usage["monthly"] = monthly.TotalCostUSD
	status.Usage["total"] = total.TotalCostUSD

	if limit == nil || !limit.IsActive {
		return status, nil
	}

	s.checkWindow(status, "daily", daily.TotalCostUSD, limit.DailyLimitUSD, limit.WarningThresholdPercent)
	s.checkWindow(status, "monthly", monthly.TotalCostUSD, limit.MonthlyLimitUSD, limit.WarningThresholdPercent)
	s.checkWindow(status, "total", total.TotalCostUSD, limit.TotalLimitUSD, limit.WarningThresholdPercent)

	return status, nil
}

func (s *Service) checkWindow(status *models.BudgetStatus, window string, used float64, limitUSD *float64, warningPct float64) {
	if limitUSD == nil {
		return
	}
	status.Limits[window] = *limitUSD

	if used >= *limitUSD {
		status.WithinBudget = false
		status.Violations = append(status.Violations, models.BudgetViolation{
			Window:   window,
			Level:    "exceeded",
			UsedUSD:  used,
			LimitUSD: *limitUSD,
		})
		return
	}
	if warningPct > 0 && used >= *limitUSD*warningPct/100 {
		status.Violations = append(status.Violations, models.BudgetViolation{
			Window:   window,
			Level:    "warning",
			UsedUSD:  used,
			LimitUSD: *limitUSD,
		})
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
