package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sheetsync/internal/backup"
	"github.com/desertthunder/sheetsync/internal/events"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/repositories"
	"github.com/desertthunder/sheetsync/internal/services"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/desertthunder/sheetsync/internal/tasks"
	"github.com/desertthunder/sheetsync/internal/transfer"
	"github.com/spf13/afero"
)

// App owns every long-lived collaborator of a process.
type App struct {
	Config *shared.Config
	Logger *log.Logger
	Fs     afero.Fs

	DB         *sql.DB
	Sheets     *repositories.SheetRepository
	SheetStore *repositories.SheetStoreAdapter
	Downloads  *repositories.DownloadRepository
	State      *repositories.StateRepository

	Bus    *events.Bus
	Store  services.ObjectStore // nil when the backup store has no credentials
	Engine *tasks.SheetEngine
	Queue  *transfer.Queue
	Backup *backup.Service
	Linker *transfer.Linker
}

type options struct {
	fs         afero.Fs
	store      services.ObjectStore
	resolver   services.Resolver
	fetcher    transfer.Fetcher
	httpClient *http.Client
}

// Option overrides a collaborator built by [New].
type Option func(*options)

// WithFs sets the file system used for media and snapshot files.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithStore replaces the configured backup store.
func WithStore(store services.ObjectStore) Option {
	return func(o *options) { o.store = store }
}

// WithResolver replaces the configured media resolver.
func WithResolver(r services.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f transfer.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithHTTPClient sets the client used for WebDAV and media downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New opens the database, runs migrations and wires every collaborator from cfg.
func New(ctx context.Context, cfg *shared.Config, logger *log.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	o := options{fs: afero.NewOsFs(), httpClient: &http.Client{Timeout: 30 * time.Minute}}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Fs:        o.fs,
		DB:        db,
		Sheets:    repositories.NewSheetRepository(db),
		Downloads: repositories.NewDownloadRepository(db),
		State:     repositories.NewStateRepository(db),
		Bus:       events.NewBus(logger),
		Store:     o.store,
	}
	a.SheetStore = repositories.NewSheetStoreAdapter(a.Sheets)

	if a.Store == nil {
		store, err := newStore(ctx, cfg.Backup, o.httpClient, logger)
		switch {
		case errors.Is(err, shared.ErrMissingCredentials):
			logger.Warn("Backup store disabled", "provider", cfg.Backup.Provider, "error", err)
		case err != nil:
			a.Close()
			return nil, err
		default:
			a.Store = store
		}
	}

	resolver := o.resolver
	if resolver == nil {
		resolver = newResolver(cfg.Resolver, a.Store)
	}
	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = transfer.NewHTTPFetcher(o.fs, o.httpClient)
	}

	quality, qualities := qualityOrder(cfg.Download)

	a.Engine = tasks.NewSheetEngine(a.SheetStore, cfg.Backup.DefaultSheetLabel, logger)
	a.Queue = transfer.NewQueue(transfer.Config{
		Resolver:    resolver,
		Fetcher:     fetcher,
		Store:       a.Store,
		Downloads:   a.Downloads,
		Publisher:   a.Bus,
		Fs:          o.fs,
		Dir:         cfg.Download.Path,
		MediaPrefix: cfg.Backup.MediaPrefix,
		Qualities:   qualities,
		Concurrency: cfg.Download.Concurrency,
	}, logger)
	a.Linker = transfer.NewLinker(o.fs, a.Downloads, cfg.Download.Path, quality, logger)
	a.Backup = backup.NewService(backup.Config{
		Store:       a.Store,
		Engine:      a.Engine,
		Sheets:      a.SheetStore,
		State:       a.State,
		Fs:          o.fs,
		Publisher:   a.Bus,
		SnapshotKey: snapshotKey(cfg.Backup),
		MediaPrefix: cfg.Backup.MediaPrefix,
	}, logger)

	return a, nil
}

func openDatabase(ctx context.Context, cfg shared.DatabaseConfig) (*sql.DB, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := shared.NewDatabase(cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Path == ":memory:" {
		shared.ConfigureDatabase(db, 1, 1)
	} else if cfg.MaxOpenConns > 0 {
		shared.ConfigureDatabase(db, cfg.MaxOpenConns, cfg.MaxIdleConns)
	}

	if _, err := shared.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func newStore(ctx context.Context, cfg shared.BackupConfig, client *http.Client, logger *log.Logger) (services.ObjectStore, error) {
	var store services.ObjectStore
	switch cfg.Provider {
	case "s3":
		s3, err := services.NewS3Store(ctx, cfg.S3, logger)
		if err != nil {
			return nil, err
		}
		store = s3
	case "webdav":
		if cfg.WebDAV.URL == "" {
			return nil, fmt.Errorf("%w: backup.webdav.url is empty", shared.ErrMissingCredentials)
		}
		store = services.NewWebDAVStore(cfg.WebDAV, client)
	default:
		return nil, fmt.Errorf("%w: unknown backup provider %q", shared.ErrInvalidConfig, cfg.Provider)
	}
	return services.NewBreakerStore(store, services.DefaultBreakerConfig(), logger), nil
}

func newResolver(cfg shared.ResolverConfig, store services.ObjectStore) services.Resolver {
	var chain services.ChainResolver
	if p, ok := store.(services.Presigner); ok {
		chain = append(chain, services.NewObjectStoreResolver(p))
	}
	if cfg.URLTemplate != "" {
		chain = append(chain, services.NewTemplateResolver(cfg.URLTemplate))
	}
	return services.NewRateLimitedResolver(chain, cfg.RateLimit)
}

func qualityOrder(cfg shared.DownloadConfig) (models.Quality, []models.Quality) {
	quality, err := models.ParseQuality(cfg.DefaultQuality)
	if err != nil {
		quality = models.QualityStandard
	}
	fallback := models.QualityFallback(cfg.WhenQualityMissing)
	if fallback == "" {
		fallback = models.FallbackLower
	}
	return quality, models.QualityOrder(quality, fallback)
}

func snapshotKey(cfg shared.BackupConfig) string {
	if cfg.Provider == "webdav" && cfg.WebDAV.SnapshotPath != "" {
		return cfg.WebDAV.SnapshotPath
	}
	return cfg.SnapshotKey
}

// Close stops the queue, closes the bus and the database.
func (a *App) Close() error {
	if a.Queue != nil {
		a.Queue.Close()
	}
	var errs []error
	if a.Bus != nil {
		errs = append(errs, a.Bus.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
