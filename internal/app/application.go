package app

import (
	"context"
	"fmt"
	"time"

	"github.com/storyloft/studio_layer/internal/app/services/assets"
	"github.com/storyloft/studio_layer/internal/app/services/generation"
	librarysvc "github.com/storyloft/studio_layer/internal/app/services/library"
	"github.com/storyloft/studio_layer/internal/app/services/maintenance"
	projectsvc "github.com/storyloft/studio_layer/internal/app/services/projects"
	referencesvc "github.com/storyloft/studio_layer/internal/app/services/references"
	scriptsvc "github.com/storyloft/studio_layer/internal/app/services/scripts"
	usersvc "github.com/storyloft/studio_layer/internal/app/services/users"
	walletsvc "github.com/storyloft/studio_layer/internal/app/services/wallet"
	"github.com/storyloft/studio_layer/internal/app/storage"
	"github.com/storyloft/studio_layer/internal/app/storage/memory"
	"github.com/storyloft/studio_layer/internal/app/system"
	"github.com/storyloft/studio_layer/internal/cache"
	"github.com/storyloft/studio_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users       storage.UserStore
	Projects    storage.ProjectStore
	Scripts     storage.ScriptStore
	Library     storage.LibraryStore
	References  storage.ReferenceStore
	Assets      storage.AssetStore
	Jobs        storage.JobStore
	Wallet      storage.WalletStore
	Maintenance storage.MaintenanceStore
}

// Options tunes application behaviour beyond persistence.
type Options struct {
	// Cache may be nil; lookups then always hit the store.
	Cache *cache.Cache
	// SignupGrant is the points granted to new users; zero disables it.
	SignupGrant int64
	// Pricing maps job kinds to their cost in points.
	Pricing generation.Pricing
	// Providers are registered with the generation service.
	Providers []generation.Provider
	// CallbackSecret enables HMAC verification of provider callbacks.
	CallbackSecret string
	// DispatchInterval is the job dispatcher poll interval.
	DispatchInterval time.Duration
	// SweepSchedule is the cron expression for the retention sweeper.
	SweepSchedule string
	// Retention is how long soft-deleted rows are kept.
	Retention time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Users      *usersvc.Service
	Projects   *projectsvc.Service
	Scripts    *scriptsvc.Service
	Library    *librarysvc.Service
	References *referencesvc.Service
	Assets     *assets.Service
	Wallet     *walletsvc.Service
	Generation *generation.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Projects == nil {
		stores.Projects = mem
	}
	if stores.Scripts == nil {
		stores.Scripts = mem
	}
	if stores.Library == nil {
		stores.Library = mem
	}
	if stores.References == nil {
		stores.References = mem
	}
	if stores.Assets == nil {
		stores.Assets = mem
	}
	if stores.Jobs == nil {
		stores.Jobs = mem
	}
	if stores.Wallet == nil {
		stores.Wallet = mem
	}
	if stores.Maintenance == nil {
		stores.Maintenance = mem
	}

	if opts.Pricing == nil {
		opts.Pricing = generation.Pricing{}
	}

	manager := system.NewManager()

	userService := usersvc.New(stores.Users, log)
	projectService := projectsvc.New(stores.Projects, log)
	scriptService := scriptsvc.New(projectService, stores.Scripts, stores.References, log)
	libraryService := librarysvc.New(stores.Library, stores.References, log)
	referenceService := referencesvc.New(projectService, libraryService, stores.References, stores.Scripts, log)
	assetService := assets.New(projectService, stores.Assets, opts.Cache, log)
	walletService := walletsvc.New(stores.Wallet, opts.Cache, opts.SignupGrant, log)
	generationService := generation.New(projectService, assetService, walletService, stores.Jobs, opts.Pricing, log)

	userService.AttachSignupGrant(walletService)
	for _, p := range opts.Providers {
		generationService.RegisterProvider(p)
	}
	generationService.SetCallbackSecret(opts.CallbackSecret)

	dispatcher := generation.NewDispatcher(generationService, log)
	if opts.DispatchInterval > 0 {
		dispatcher.WithInterval(opts.DispatchInterval)
	}
	sweeper := maintenance.NewSweeper(stores.Maintenance, opts.SweepSchedule, opts.Retention, log)

	for _, svc := range []system.Service{dispatcher, sweeper} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		Users:      userService,
		Projects:   projectService,
		Scripts:    scriptService,
		Library:    libraryService,
		References: referenceService,
		Assets:     assetService,
		Wallet:     walletService,
		Generation: generationService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
