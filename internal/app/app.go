package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"foliosync/internal/api"
	"foliosync/internal/config"
	"foliosync/internal/folio"
	"foliosync/internal/hwinfo"
	"foliosync/internal/store"
)

// Version is reported to the server in device registrations.
const Version = "0.3.1"

// App is the application layer between the CLI and the services. It
// constructs all dependencies from config and manages the store and
// log file lifecycle on Close.
type App struct {
	cfg     *config.Config
	store   folio.Store
	logFile *os.File

	API        *api.Client
	Identity   *folio.IdentityProvider
	Session    *folio.SessionManager
	Cache      *folio.CacheEngine
	Reconciler *folio.Reconciler
	Scheduler  *folio.Scheduler
	Logger     folio.Logger
}

// New creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "Login", "SyncRun").
// The caller must call Close when done.
func New(cfg *config.Config, operation string) (*App, error) {
	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("api.base_url is not configured")
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger.With("op", operation)}

	timeout := time.Duration(cfg.API.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := api.NewClient(cfg.API.BaseURL, &http.Client{Timeout: timeout}, folio.UUIDGenerator{})

	identity := folio.NewIdentityProvider(st, hwinfo.OSCollector{}, log)
	session := folio.NewSessionManager(client, identity, log, Version)
	cache := folio.NewCacheEngine(st, folio.RealClock{}, log)
	if err := cache.ResetInterrupted(context.Background()); err != nil {
		log.Warn("resetting interrupted cache refreshes failed", "error", err)
	}
	reconciler := folio.NewReconciler(client, st, log)
	scheduler := folio.NewScheduler(session, client, st, cache, reconciler, folio.RealClock{}, log, folio.SchedulerConfig{
		Interval:            cfg.Sync.Interval(),
		InitialDelay:        cfg.Sync.InitialDelay(),
		HotelsMaxAge:        time.Duration(cfg.Sync.HotelsMaxAgeMinutes) * time.Minute,
		ImportGroupsMaxAge:  time.Duration(cfg.Sync.ImportGroupsMaxAgeMin) * time.Minute,
		MappingTablesMaxAge: time.Duration(cfg.Sync.MappingTablesMaxAgeMin) * time.Minute,
	})

	return &App{
		cfg:        cfg,
		store:      st,
		logFile:    logFile,
		API:        client,
		Identity:   identity,
		Session:    session,
		Cache:      cache,
		Reconciler: reconciler,
		Scheduler:  scheduler,
		Logger:     log,
	}, nil
}

// openStore creates the store implementation selected by config.
func openStore(cfg config.StoreConfig) (folio.Store, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return store.Open(filepath.Join(cfg.DataDir, "foliosync.db"))
	case "memory":
		return store.Open(":memory:")
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}

// Store exposes the local store to CLI commands.
func (a *App) Store() folio.Store { return a.store }

// AuthEmail returns the configured login email, or "" when none is
// set. Unattended commands use it instead of prompting.
func (a *App) AuthEmail() string { return a.cfg.Auth.Email }

// RestoreActiveHotel loads the persisted hotel selection into the
// scheduler without triggering a sync pass. Call before Scheduler.Start.
func (a *App) RestoreActiveHotel(ctx context.Context) (string, error) {
	hotelID, err := a.store.GetSetting(ctx, folio.SettingActiveHotel)
	if errors.Is(err, folio.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hotelID, nil
}

// Close releases the store and the log file.
func (a *App) Close() error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = err
		}
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
