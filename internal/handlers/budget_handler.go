// -----------------------------------------------------------------------
// Budget Handler - usage summaries, limits, and advisory status
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
)

// BudgetHandler serves spend summaries and limit management for a caller.
type BudgetHandler struct {
	budgetService interfaces.BudgetService
	authSecret    string
	logger        arbor.ILogger
}

// NewBudgetHandler creates a budget handler.
func NewBudgetHandler(budgetService interfaces.BudgetService, authSecret string, logger arbor.ILogger) *BudgetHandler {
	return &BudgetHandler{
		budgetService: budgetService,
		authSecret:    authSecret,
		logger:        logger,
	}
}

// HandleUsage serves GET /api/budget/usage?period=day|week|month|all.
func (h *BudgetHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	callerID := h.resolveCaller(r)
	if callerID == "" {
		WriteError(w, http.StatusUnauthorized, "caller identity is required")
		return
	}

	summary, err := h.budgetService.UsageSummaryForPeriod(r.Context(), callerID, r.URL.Query().Get("period"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, summary)
}

// HandleStatus serves GET /api/budget/status, the advisory limit check.
func (h *BudgetHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	callerID := h.resolveCaller(r)
	if callerID == "" {
		WriteError(w, http.StatusUnauthorized, "caller identity is required")
		return
	}

	status, err := h.budgetService.CheckLimit(r.Context(), callerID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// SetLimitRequest is the PUT /api/budget/limits payload.
type SetLimitRequest struct {
	DailyLimitUSD           *float64 `json:"daily_limit_usd"`
	MonthlyLimitUSD         *float64 `json:"monthly_limit_usd"`
	TotalLimitUSD           *float64 `json:"total_limit_usd"`
	WarningThresholdPercent float64  `json:"warning_threshold_percent"`
}

// HandleLimits serves GET and PUT /api/budget/limits.
func (h *BudgetHandler) HandleLimits(w http.ResponseWriter, r *http.Request) {
	callerID := h.resolveCaller(r)
	if callerID == "" {
		WriteError(w, http.StatusUnauthorized, "caller identity is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		limit, err := h.budgetService.GetLimit(r.Context(), callerID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if limit == nil {
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"caller_id": callerID,
				"limit":     nil,
			})
			return
		}
		WriteJSON(w, http.StatusOK, limit)

	case http.MethodPut:
		var req SetLimitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		limit, err := h.budgetService.SetLimit(r.Context(), callerID, &interfaces.LimitUpdate{
			DailyLimitUSD:           req.DailyLimitUSD,
			MonthlyLimitUSD:         req.MonthlyLimitUSD,
			TotalLimitUSD:           req.TotalLimitUSD,
			WarningThresholdPercent: req.WarningThresholdPercent,
		})
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		h.logger.Info().Str("caller_id", callerID).Msg("Budget limit updated")
		WriteJSON(w, http.StatusOK, limit)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *BudgetHandler) resolveCaller(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if subject, err := common.VerifyBearerToken(strings.TrimPrefix(auth, "Bearer "), h.authSecret); err == nil {
			return subject
		}
	}
	return r.Header.Get("X-Caller-ID")
}
