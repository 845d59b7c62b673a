// Package server wires the vault together: configuration, logging, the
// record store, blob storage, ledger locks, the services, and the metrics
// endpoint.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/docvault/internal/cryptox"
	"github.com/dmitrijs2005/docvault/internal/lock"
	"github.com/dmitrijs2005/docvault/internal/logging"
	"github.com/dmitrijs2005/docvault/internal/metrics"
	"github.com/dmitrijs2005/docvault/internal/server/blobstore"
	"github.com/dmitrijs2005/docvault/internal/server/config"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docvault/internal/server/services"
)

// Seams for tests.
var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}
	newS3Store = func(ctx context.Context, cfg blobstore.S3Config) (blobstore.Store, error) {
		return blobstore.NewS3(ctx, cfg)
	}
	newRedisLocker = func(ctx context.Context, c *config.Config) (lock.Locker, func() error, error) {
		client, err := lock.NewRedisClient(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return lock.NewRedisLocker(client, c.LockTTL), client.Close, nil
	}
)

// App owns every long-lived resource of a vault process.
type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	engine *cryptox.Engine

	Ledger *services.LedgerService
	Vault  *services.VaultService
	Grants *services.GrantService

	closers []func() error
}

// NewApp validates cfg and builds the services. Logs go to logOut. On error
// everything opened so far is released.
func NewApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (app *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogFormat, cfg.LogLevel, logOut)
	if err != nil {
		return nil, err
	}

	app = &App{config: cfg, logger: logger.With("module", "vault")}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()
	if s, ok := logger.(interface{ Sync() error }); ok {
		app.closers = append(app.closers, s.Sync)
	}

	alg, err := cryptox.ParseAlgorithm(cfg.Cipher)
	if err != nil {
		return app, err
	}
	app.engine, err = cryptox.NewEngineFromHex(cfg.MasterKeyHex, alg)
	if err != nil {
		return app, err
	}
	app.closers = append(app.closers, func() error { app.engine.Close(); return nil })

	var manager repomanager.RepositoryManager
	if cfg.InMemory() {
		app.logger.Warn(ctx, "using in-memory repositories, data is lost on exit")
		manager = repomanager.NewInMemoryRepositoryManager()
	} else {
		app.db, err = openDB(cfg.DatabaseDSN)
		if err != nil {
			return app, fmt.Errorf("db init error: %w", err)
		}
		app.closers = append(app.closers, app.db.Close)

		manager, err = repomanager.NewPostgresRepositoryManager(app.db)
		if err != nil {
			return app, fmt.Errorf("db init error: %w", err)
		}
		if err = manager.RunMigrations(ctx, app.db); err != nil {
			return app, fmt.Errorf("migrations: %w", err)
		}
	}

	blobs, err := app.openBlobStore(ctx)
	if err != nil {
		return app, err
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		var closeRedis func() error
		locker, closeRedis, err = newRedisLocker(ctx, cfg)
		if err != nil {
			return app, fmt.Errorf("redis: %w", err)
		}
		app.closers = append(app.closers, closeRedis)
	}

	metrics.Register(nil)

	app.Ledger = services.NewLedgerService(app.db, manager, locker, app.logger)
	app.Vault = services.NewVaultService(app.db, manager, blobs, app.engine, app.Ledger, app.logger)
	app.Grants = services.NewGrantService(app.db, manager, app.engine, app.Vault, app.Ledger, app.logger, services.GrantOptions{
		TokenBytes:    cfg.TokenBytes,
		ValidateRate:  cfg.ValidateRate,
		ValidateBurst: cfg.ValidateBurst,
	})

	return app, nil
}

func (app *App) openBlobStore(ctx context.Context) (blobstore.Store, error) {
	switch app.config.Storage {
	case config.StorageS3:
		return newS3Store(ctx, blobstore.S3Config{
			Region:       app.config.S3Region,
			Endpoint:     app.config.S3Endpoint,
			AccessKey:    app.config.S3User,
			SecretKey:    app.config.S3Password,
			Bucket:       app.config.S3Bucket,
			UsePathStyle: app.config.S3UsePathStyle,
		})
	default:
		return blobstore.NewLocal(app.config.LocalStorageDir)
	}
}

// Engine returns the master key engine. RotateMasterKey needs it to build
// the target engine with the same cipher.
func (app *App) Engine() *cryptox.Engine { return app.engine }

func (app *App) Logger() logging.Logger { return app.logger }

// MetricsAddr is the configured metrics listen address.
func (app *App) MetricsAddr() string { return app.config.MetricsAddr }

// Close releases resources in reverse order of acquisition.
func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}

// WithSignals returns a context cancelled on SIGINT, SIGTERM or SIGQUIT.
func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
}

// ServeMetrics exposes /metrics on addr until ctx is done.
func (app *App) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping metrics server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
