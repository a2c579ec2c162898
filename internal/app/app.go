// -----------------------------------------------------------------------
// App - dependency container and lifecycle for all components
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/handlers"
	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/services/budget"
	"github.com/brandmill/maestro/internal/services/events"
	"github.com/brandmill/maestro/internal/services/generator"
	"github.com/brandmill/maestro/internal/services/jobs"
	"github.com/brandmill/maestro/internal/services/scheduler"
	"github.com/brandmill/maestro/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Core services
	EventService  interfaces.EventService
	JobService    interfaces.JobService
	BudgetService interfaces.BudgetService
	Generator     interfaces.ContentGenerator
	Scheduler     *scheduler.Scheduler
	Watchdog      *scheduler.Watchdog

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	JobHandler    *handlers.JobHandler
	BudgetHandler *handlers.BudgetHandler
	WSHandler     *handlers.WebSocketHandler
}

// New wires every component in dependency order: storage, services,
// scheduler, then handlers.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	storageManager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.EventService = events.NewService(logger)
	a.JobService = jobs.NewService(storageManager.JobStorage(), logger)
	a.BudgetService = budget.NewService(storageManager.BudgetStorage(), &config.Budget, logger)

	a.Generator, err = generator.New(config, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize content generator: %w", err)
	}

	a.Scheduler = scheduler.New(a.JobService, a.BudgetService, a.Generator, a.EventService, &config.Scheduler, logger)

	a.Watchdog, err = scheduler.NewWatchdog(a.Scheduler, a.JobService, storageManager.JobStorage(), a.EventService, &config.Scheduler, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize watchdog: %w", err)
	}

	a.APIHandler = handlers.NewAPIHandler(logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.EventService, a.Scheduler, config.Auth.JWTSecret, logger)
	a.BudgetHandler = handlers.NewBudgetHandler(a.BudgetService, config.Auth.JWTSecret, logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.JobService, a.EventService, &config.WebSocket, config.Auth.JWTSecret, logger)

	logger.Info().
		Str("llm_provider", string(config.LLM.Provider)).
		Int("concurrency", config.Scheduler.Concurrency).
		Msg("Application initialized")

	return a, nil
}

// Start recovers jobs orphaned by a previous process, then begins background
// processing: the dispatch loop and the watchdog.
func (a *App) Start() {
	recovered, err := a.JobService.RecoverOrphans(context.Background())
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Orphan recovery incomplete")
	}
	if recovered > 0 {
		a.Logger.Info().Int("recovered", recovered).Msg("Requeued jobs from previous run")
	}

	a.Scheduler.Start()
	a.Watchdog.Start()
}

// Close shuts components down in reverse dependency order. The scheduler
// drains its in-flight executions before storage closes beneath them.
func (a *App) Close() error {
	a.Watchdog.Stop()
	a.Scheduler.Stop()

	if err := a.EventService.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Event service close failed")
	}
	if err := a.StorageManager.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Storage close failed")
		return err
	}

	a.Logger.Info().Msg("Application stopped")
	return nil
}
