// Package app wires the application together: configuration, storage,
// the selector registry, worker construction, and the HTTP handlers.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/browser"
	"github.com/melodana/songforge/internal/common"
	"github.com/melodana/songforge/internal/download"
	"github.com/melodana/songforge/internal/handlers"
	"github.com/melodana/songforge/internal/interfaces"
	"github.com/melodana/songforge/internal/retry"
	"github.com/melodana/songforge/internal/scheduler"
	"github.com/melodana/songforge/internal/selectors"
	badgerstorage "github.com/melodana/songforge/internal/storage/badger"
	"github.com/melodana/songforge/internal/worker"
	"github.com/melodana/songforge/internal/workers/distribution"
	"github.com/melodana/songforge/internal/workers/generation"
)

// runningWorker tracks one live worker instance
type runningWorker struct {
	stop func()
	done <-chan struct{}
}

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager
	Registry       *selectors.Registry
	Profiles       *browser.Profiles
	Downloads      *download.Manager
	Timeouts       common.TimeoutConfig

	// HTTP surface
	EventsHandler   *handlers.EventsHandler
	JobHandler      *handlers.JobHandler
	WorkerHandler   *handlers.WorkerHandler
	SelectorHandler *handlers.SelectorHandler
	ProfileHandler  *handlers.ProfileHandler

	Scheduler *scheduler.Scheduler

	mu      sync.Mutex
	running map[string]*runningWorker
}

// New builds the application from configuration
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	storageManager, err := badgerstorage.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := selectors.NewRegistry(config.Selectors.Path, logger)
	for group, defaults := range config.Selectors.Groups {
		registry.RegisterGroup(group, defaults)
	}

	downloads, err := download.NewManager(config.Workers.Generation.DownloadDir, config.Timeouts.Download, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize download manager: %w", err)
	}

	// Stored overrides win over the config file
	timeouts := common.ResolveTimeouts(context.Background(), config.Timeouts, storageManager.KeyValueStorage())

	a := &App{
		Config:         config,
		Logger:         logger,
		StorageManager: storageManager,
		Registry:       registry,
		Profiles:       browser.NewProfiles(config.Browser.ProfilesDir, logger),
		Downloads:      downloads,
		Timeouts:       timeouts,
		running:        make(map[string]*runningWorker),
	}

	a.EventsHandler = handlers.NewEventsHandler(logger)
	a.JobHandler = handlers.NewJobHandler(storageManager.JobStorage(), logger)
	a.WorkerHandler = handlers.NewWorkerHandler(a, logger)
	a.SelectorHandler = handlers.NewSelectorHandler(registry, config.Selectors.Groups, a.RunHealthCheck, logger)
	a.ProfileHandler = handlers.NewProfileHandler(a.Profiles, logger)

	a.Scheduler = scheduler.New(config.Scheduler, storageManager.JobStorage(), func() error {
		return a.StartGeneration(nil, config.Workers.Generation.DryRun)
	}, logger)

	logger.Info().Str("environment", config.Environment).Msg("Application initialized")
	return a, nil
}

// Start begins background services
func (a *App) Start() error {
	return a.Scheduler.Start()
}

// Close stops background services, requests worker stops, and waits for
// running workers to release their resources before closing storage.
func (a *App) Close() error {
	a.Scheduler.Stop()

	a.mu.Lock()
	workers := make([]*runningWorker, 0, len(a.running))
	for _, rw := range a.running {
		rw.stop()
		workers = append(workers, rw)
	}
	a.mu.Unlock()

	for _, rw := range workers {
		<-rw.done
	}

	return a.StorageManager.Close()
}

// StartGeneration starts a generation worker run. Only one run per worker
// name may be live at a time.
func (a *App) StartGeneration(jobIDs []string, dryRun bool) error {
	cfg := a.Config.Workers.Generation
	cfg.DryRun = cfg.DryRun || dryRun

	w := generation.New(cfg, a.Timeouts, a.StorageManager, a.Downloads, a.generationDriverFactory, jobIDs, a.Logger)
	return a.launch("generation", w.Base, w.Run)
}

// StartDistribution starts a distribution worker run
func (a *App) StartDistribution(jobIDs []string) error {
	w := distribution.New(a.Config.Workers.Distribution, a.Timeouts, a.StorageManager, a.distributionDriverFactory, jobIDs, a.Logger)
	return a.launch("distribution", w.Base, w.Run)
}

// launch registers the worker, attaches its event channel to the broadcast
// hub, and starts it
func (a *App) launch(name string, base *worker.Base, run func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if rw, ok := a.running[name]; ok {
		select {
		case <-rw.done:
			// Previous run terminated; replace it
		default:
			return handlers.ErrWorkerBusy
		}
	}

	a.EventsHandler.Attach(name, base.Events())
	if err := run(); err != nil {
		return err
	}
	a.running[name] = &runningWorker{stop: base.RequestStop, done: base.Done()}

	a.Logger.Info().Str("worker", name).Msg("Worker started")
	return nil
}

// StopWorker requests a graceful stop of the named worker
func (a *App) StopWorker(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rw, ok := a.running[name]
	if !ok {
		return fmt.Errorf("no %s worker has been started", name)
	}
	rw.stop()
	return nil
}

// WorkerRunning reports whether the named worker is currently live
func (a *App) WorkerRunning(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	rw, ok := a.running[name]
	if !ok {
		return false
	}
	select {
	case <-rw.done:
		return false
	default:
		return true
	}
}

// RunHealthCheck opens a throwaway browser session and verifies every
// registered selector against the generation form page
func (a *App) RunHealthCheck(ctx context.Context) (*selectors.HealthReport, error) {
	session, release, err := a.openSession("diagnostics")
	if err != nil {
		return nil, err
	}
	defer release()

	checker := selectors.NewHealthChecker(session, a.Logger)
	pageURL := a.Config.Workers.Generation.BaseURL + a.Config.Workers.Generation.FormPath
	return checker.Run(ctx, selectors.ChecksForRegistry(a.Registry, pageURL)), nil
}

func (a *App) generationDriverFactory(ctx context.Context) (generation.PageDriver, func(), error) {
	session, release, err := a.openSession("generation")
	if err != nil {
		return nil, nil, err
	}
	return a.newDriver(session), release, nil
}

func (a *App) distributionDriverFactory(ctx context.Context) (distribution.PageDriver, func(), error) {
	session, release, err := a.openSession(a.Config.Workers.Distribution.Backend)
	if err != nil {
		return nil, nil, err
	}
	return a.newDriver(session), release, nil
}

// openSession launches a browser with the persistent profile for a service
func (a *App) openSession(service string) (*browser.Session, func(), error) {
	profileDir, err := a.Profiles.Path(service)
	if err != nil {
		return nil, nil, err
	}

	session, err := browser.NewSession(browser.SessionConfig{
		Headless:        a.Config.Browser.Headless,
		NoSandbox:       a.Config.Browser.NoSandbox,
		DisableGPU:      a.Config.Browser.DisableGPU,
		UserAgent:       a.Config.Browser.UserAgent,
		ExecPath:        a.Config.Browser.ExecPath,
		ProfileDir:      profileDir,
		PageLoadTimeout: a.Timeouts.PageLoad,
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}

	release := func() {
		if err := session.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Browser session close failed")
		}
	}
	return session, release, nil
}

func (a *App) newDriver(session *browser.Session) *browser.Driver {
	policy := retry.Policy{
		MaxAttempts: a.Config.Retry.MaxAttempts,
		BackoffBase: a.Config.Retry.BackoffBase,
		IsRetryable: browser.IsRetryable,
		Logger:      a.Logger,
	}
	return browser.NewDriver(session, a.Registry, policy, a.Timeouts.ElementWait, a.Logger)
}
