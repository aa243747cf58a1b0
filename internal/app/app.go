// -----------------------------------------------------------------------
// Application container - builds the dependency graph in order: storage,
// subprocess supervisors, typed service clients, batch core, chat surface,
// HTTP handlers. Owns startup recovery and shutdown ordering.
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/handlers"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/jobs/coordinator"
	"github.com/matt-hans/shipagent/internal/jobs/engine"
	"github.com/matt-hans/shipagent/internal/models"
	"github.com/matt-hans/shipagent/internal/services/carrier"
	"github.com/matt-hans/shipagent/internal/services/chat"
	"github.com/matt-hans/shipagent/internal/services/events"
	"github.com/matt-hans/shipagent/internal/services/filter"
	"github.com/matt-hans/shipagent/internal/services/gateway"
	"github.com/matt-hans/shipagent/internal/services/interpreter"
	"github.com/matt-hans/shipagent/internal/services/labels"
	"github.com/matt-hans/shipagent/internal/services/payload"
	"github.com/matt-hans/shipagent/internal/services/scheduler"
	"github.com/matt-hans/shipagent/internal/services/subprocess"
	"github.com/matt-hans/shipagent/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager

	// Subprocess supervisors (carrier and data source)
	CarrierSupervisor *subprocess.Supervisor
	SourceSupervisor  *subprocess.Supervisor

	// Typed service clients
	Gateway interfaces.DataGateway
	Carrier interfaces.CarrierService

	// Batch core
	EventService interfaces.EventBus
	EventTap     *events.LoggerTap
	LabelStore   interfaces.LabelStore
	Engine       *engine.Engine
	Coordinator  *coordinator.Coordinator

	// Conversation surface
	Interpreter interfaces.Interpreter
	ChatService *chat.Service

	// Maintenance
	SchedulerService *scheduler.Service

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	JobHandler    *handlers.JobHandler
	ChatHandler   *handlers.ChatHandler
	LabelsHandler *handlers.LabelsHandler
	SSEHandler    *handlers.SSEHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, err
	}
	if err := app.initSubprocesses(); err != nil {
		app.StorageManager.Close()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		app.shutdownSubprocesses()
		app.StorageManager.Close()
		return nil, err
	}
	app.initHandlers()

	// Resolve jobs stranded by a previous crash before accepting work
	recoverCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := app.Coordinator.RecoverOnStartup(recoverCtx); err != nil {
		logger.Warn().Err(err).Msg("Startup recovery incomplete")
	}

	if cfg.Scheduler.Enabled {
		if err := app.SchedulerService.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start maintenance scheduler")
		}
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("concurrency", cfg.Batch.Concurrency).
		Msg("Application initialization complete")
	return app, nil
}

// initStorage opens the state store and session store and takes the
// single-writer runtime lock.
func (a *App) initStorage() error {
	manager, err := storage.NewManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = manager

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.StateStore().AcquireRuntimeLock(ctx, os.Getpid()); err != nil {
		manager.Close()
		return fmt.Errorf("another instance holds the runtime lock: %w", err)
	}

	a.Logger.Debug().
		Str("sqlite", a.Config.Storage.SQLite.Path).
		Str("sessions", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initSubprocesses spawns the carrier and data-source services. Credentials
// reach the children via environment only and are never logged.
func (a *App) initSubprocesses() error {
	carrierEnv := []string{
		"SHIPAGENT_CARRIER_CLIENT_ID=" + a.Config.Carrier.ClientID,
		"SHIPAGENT_CARRIER_CLIENT_SECRET=" + a.Config.Carrier.ClientSecret,
		"SHIPAGENT_CARRIER_ACCOUNT_NUMBER=" + a.Config.Carrier.AccountNumber,
		"SHIPAGENT_CARRIER_BASE_URL=" + a.Config.Carrier.BaseURL,
	}
	a.CarrierSupervisor = subprocess.NewSupervisor(
		"carrier", a.Config.Carrier.Command, a.Config.Carrier.Args, carrierEnv, a.Logger)

	sourceEnv := []string{
		"SHIPAGENT_SOURCE_PATH=" + a.Config.Source.Path,
	}
	a.SourceSupervisor = subprocess.NewSupervisor(
		"source", a.Config.Source.Command, a.Config.Source.Args, sourceEnv, a.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.SourceSupervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start data-source service: %w", err)
	}
	if err := a.CarrierSupervisor.Start(ctx); err != nil {
		a.SourceSupervisor.Stop(ctx)
		return fmt.Errorf("failed to start carrier service: %w", err)
	}
	return nil
}

// initServices builds the batch core and conversation surface
func (a *App) initServices() error {
	a.Gateway = gateway.NewGateway(a.SourceSupervisor, []byte(a.Config.Filter.TokenSecret), a.Logger)
	a.Carrier = carrier.NewClient(a.CarrierSupervisor, a.Logger)

	builder, err := payload.NewBuilder(models.ShipperProfile{
		Name:          a.Config.Shipper.Name,
		AccountNumber: a.Config.Carrier.AccountNumber,
		Address1:      a.Config.Shipper.Address1,
		Address2:      a.Config.Shipper.Address2,
		City:          a.Config.Shipper.City,
		State:         a.Config.Shipper.State,
		PostalCode:    a.Config.Shipper.PostalCode,
		Country:       a.Config.Shipper.Country,
		Phone:         a.Config.Shipper.Phone,
	})
	if err != nil {
		return fmt.Errorf("failed to build payload builder: %w", err)
	}

	a.EventService = events.NewEventService(a.Logger)
	a.EventTap = events.StartLoggerTap(a.EventService, a.Logger)

	labelStore, err := labels.NewStore(a.Config.Labels.OutputDir, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize label store: %w", err)
	}
	a.LabelStore = labelStore

	a.Engine = engine.NewEngine(
		a.StorageManager.StateStore(),
		a.Gateway,
		a.Carrier,
		builder,
		a.EventService,
		a.LabelStore,
		engine.Options{
			Concurrency:    a.Config.Batch.Concurrency,
			PreviewMaxRows: a.Config.Batch.PreviewMaxRows,
			LaneEnabled:    a.Config.Carrier.InternationalLaneEnabled,
		},
		a.Logger,
	)

	compiler := filter.NewCompiler([]byte(a.Config.Filter.TokenSecret), a.Logger)
	a.Coordinator = coordinator.NewCoordinator(
		a.StorageManager.StateStore(), a.Gateway, compiler, a.Engine, a.EventService, a.Logger)

	// LLM interpreter when a key is present, keyword matching otherwise
	if a.Config.Claude.APIKey != "" {
		interp, err := interpreter.NewClaudeInterpreter(&a.Config.Claude, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize interpreter: %w", err)
		}
		a.Interpreter = interp
		a.Logger.Debug().Str("model", a.Config.Claude.Model).Msg("Claude interpreter initialized")
	} else {
		a.Interpreter = interpreter.NewOfflineInterpreter(a.Logger)
		a.Logger.Info().Msg("No Anthropic API key configured, using offline interpreter")
	}

	a.ChatService = chat.NewService(
		a.StorageManager.ConversationStorage(), a.Interpreter, a.Gateway, a.Coordinator, a.Logger)

	a.SchedulerService, err = scheduler.NewService(
		a.StorageManager.StateStore(),
		a.StorageManager.ConversationStorage(),
		a.Coordinator,
		&a.Config.Scheduler,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	store := a.StorageManager.StateStore()
	a.APIHandler = handlers.NewAPIHandler(store, a.Gateway, a.Carrier, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.Coordinator, store, a.Logger)
	a.ChatHandler = handlers.NewChatHandler(a.ChatService, a.Logger)
	a.LabelsHandler = handlers.NewLabelsHandler(a.LabelStore, store, a.Logger)
	a.SSEHandler = handlers.NewSSEHandler(a.EventService, store, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger)
}

func (a *App) shutdownSubprocesses() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.CarrierSupervisor != nil {
		a.CarrierSupervisor.Stop(ctx)
	}
	if a.SourceSupervisor != nil {
		a.SourceSupervisor.Stop(ctx)
	}
}

// Close shuts the application down in reverse dependency order
func (a *App) Close() error {
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}
	if a.EventTap != nil {
		a.EventTap.Stop()
	}
	if a.EventService != nil {
		a.EventService.Close()
	}

	a.shutdownSubprocesses()

	if a.StorageManager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.StorageManager.StateStore().ReleaseRuntimeLock(ctx, os.Getpid()); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to release runtime lock")
		}
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
