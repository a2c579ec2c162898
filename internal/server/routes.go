package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs. The stats route is registered before the /api/jobs/
	// prefix handler so ServeMux matches it exactly.
	mux.HandleFunc("/api/jobs/stats/queue", s.app.JobHandler.HandleQueueStats)
	mux.HandleFunc("/api/jobs", s.app.JobHandler.HandleJobs)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.HandleJob) // /{id} and /{id}/cancel

	// API routes - Budget
	mux.HandleFunc("/api/budget/usage", s.app.BudgetHandler.HandleUsage)
	mux.HandleFunc("/api/budget/status", s.app.BudgetHandler.HandleStatus)
	mux.HandleFunc("/api/budget/limits", s.app.BudgetHandler.HandleLimits)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Everything else is a JSON 404
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
