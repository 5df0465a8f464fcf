// -----------------------------------------------------------------------
// App - wires storage, queue, services, and handlers into one unit
// -----------------------------------------------------------------------

package app

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/common"
	"github.com/mirageapp/mirage/internal/generation"
	"github.com/mirageapp/mirage/internal/handlers"
	"github.com/mirageapp/mirage/internal/interfaces"
	"github.com/mirageapp/mirage/internal/models"
	"github.com/mirageapp/mirage/internal/orchestrator"
	"github.com/mirageapp/mirage/internal/queue"
	"github.com/mirageapp/mirage/internal/services/events"
	"github.com/mirageapp/mirage/internal/services/narration"
	"github.com/mirageapp/mirage/internal/services/status"
	badgerstorage "github.com/mirageapp/mirage/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Catalog        *models.ScenarioCatalog
	StorageManager interfaces.StorageManager
	QueueManager   interfaces.QueueManager
	EventService   interfaces.EventService

	GenerationService interfaces.GenerationService
	Trigger           *orchestrator.GuardedTrigger
	Orchestrator      *orchestrator.Orchestrator
	WorkerPool        *orchestrator.WorkerPool

	NarrationService *narration.Service
	NarrationReaper  *narration.Reaper
	StatusService    *status.Service

	// HTTP handlers
	APIHandler        *handlers.APIHandler
	GenerationHandler *handlers.GenerationHandler
	NarrationHandler  *handlers.NarrationHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	catalog, err := cfg.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario catalog: %w", err)
	}
	app.Catalog = catalog
	logger.Info().
		Int("scenarios", len(catalog.Scenarios)).
		Msg("Scenario catalog loaded")

	storageManager, err := badgerstorage.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager

	// The queue shares the storage database so enqueue and state updates
	// live in one place
	badgerDB := storageManager.(*badgerstorage.Manager).DB()
	queueManager, err := queue.NewBadgerManager(
		badgerDB.Store().Badger(),
		cfg.Queue.QueueName,
		common.Duration(cfg.Queue.VisibilityTimeout, 30*time.Minute),
		cfg.Queue.MaxReceive,
	)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	app.QueueManager = queueManager

	app.EventService = events.NewService(logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, logger); err != nil {
		logger.Warn().Err(err).Msg("Failed to subscribe logger to events")
	}

	blobs := generation.NewHTTPBlobStore(cfg.Generation.BlobBaseURL, logger)
	gateway := generation.NewGateway(&cfg.Generation, blobs, logger)
	app.GenerationService = gateway

	fallback := generation.NewFallbackResolver(catalog, cfg.Fallback.PlaceholderURL, cfg.Fallback.PlaceholderMessage, logger)
	poller := generation.NewRetryPoller(storageManager.JobStorage(), fallback, logger)

	app.Orchestrator = orchestrator.NewOrchestrator(
		storageManager.JobStorage(),
		storageManager.UserStorage(),
		app.GenerationService,
		poller,
		app.EventService,
		catalog,
		cfg.Generation.MaxRetries,
		orchestrator.AggregatePolicy(cfg.Generation.AggregatePolicy),
		logger,
	)
	app.Trigger = orchestrator.NewGuardedTrigger(storageManager.UserStorage(), queueManager, app.EventService, logger)

	app.WorkerPool = orchestrator.NewWorkerPool(
		queueManager,
		cfg.Queue.Concurrency,
		common.Duration(cfg.Queue.PollInterval, time.Second),
		logger,
	)
	app.WorkerPool.RegisterHandler(models.WorkTypeGeneration, orchestrator.GenerationHandler(app.Orchestrator))

	app.NarrationService = narration.NewService(
		storageManager.NarrationStorage(),
		app.GenerationService,
		app.EventService,
		&cfg.Narration,
		logger,
	)
	app.NarrationReaper = narration.NewReaper(storageManager.NarrationStorage(), cfg.Narration.ReaperSchedule, logger)

	app.StatusService = status.NewService(storageManager.JobStorage(), storageManager.UserStorage(), app.EventService, logger)
	app.StatusService.SubscribeToGenerationEvents()

	app.APIHandler = handlers.NewAPIHandler(app.StatusService)
	app.GenerationHandler = handlers.NewGenerationHandler(app.Trigger, app.StatusService, logger)
	app.NarrationHandler = handlers.NewNarrationHandler(app.NarrationService, logger)

	logger.Info().Msg("Application initialized")
	return app, nil
}

// Start launches the background components: the worker pool and the
// narration reaper
func (a *App) Start() error {
	a.WorkerPool.Start()
	if err := a.NarrationReaper.Start(); err != nil {
		return err
	}
	return nil
}

// Close shuts down all components in reverse dependency order
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.NarrationReaper != nil {
		a.NarrationReaper.Stop()
	}

	if a.WorkerPool != nil {
		a.WorkerPool.Stop()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue manager")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage manager")
			return err
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
