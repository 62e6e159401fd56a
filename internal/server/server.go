// Package server orchestrates one runtime process: the COMMS connection, the
// endpoint catalog, the deployment and the HTTP health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/component-runtime/internal/config"
	"github.com/morezero/component-runtime/pkg/catalog"
	"github.com/morezero/component-runtime/pkg/commsutil"
	"github.com/morezero/component-runtime/pkg/db"
	"github.com/morezero/component-runtime/pkg/deploy"
	"github.com/morezero/component-runtime/pkg/dispatcher"
	"github.com/morezero/component-runtime/pkg/events"
)

const logPrefix = "server:server"

// Server is the component runtime orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
	catalog    catalogForServer
	links      linkStatus
}

// SetupLogging installs the default slog handler at cfg.LogLevel.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run starts the runtime, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return Serve(ctx, cfg)
}

// Serve runs the runtime described by cfg until ctx is done.
func Serve(ctx context.Context, cfg *config.Config) error {
	slog.Info(fmt.Sprintf("%s - Starting %s", logPrefix, cfg.COMMSName))
	s := &Server{cfg: cfg}
	defer s.close()

	// Step 1: Load the deployment
	dep, err := deploy.Load(cfg.DeploymentFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load deployment: %w", logPrefix, err)
	}

	// Step 2: Connect to NATS. Optional unless the deployment or a remote
	// catalog needs it.
	needComms := dep.HasTransport(deploy.TransportNATS) || cfg.CatalogStore == config.CatalogRemote
	var publisher events.EventPublisher = events.LogPublisher{}
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	switch {
	case err == nil:
		s.nc = nc
		publisher = events.Multi(events.LogPublisher{},
			events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalChangeSubject: cfg.ChangeEventSubject}))
		slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))
	case needComms:
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	default:
		slog.Warn(fmt.Sprintf("%s - NATS unavailable, catalog events are logged only: %v", logPrefix, err))
	}

	// Step 3: Catalog
	var endpoints EndpointCatalog
	if cfg.CatalogStore == config.CatalogRemote {
		remote := dispatcher.NewRemoteCatalog(s.nc, cfg.CatalogSubject, cfg.CatalogTimeout)
		s.catalog, endpoints = remote, remote
		slog.Info(fmt.Sprintf("%s - Using remote catalog on %s", logPrefix, cfg.CatalogSubject))
	} else {
		store, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		cat := catalog.NewCatalog(catalog.NewCatalogParams{Store: store, Publisher: publisher})
		s.catalog, endpoints = cat, cat
		if s.nc != nil && cfg.CatalogServe {
			sub, err := dispatcher.NewDispatcher(cat).Serve(ctx, s.nc, cfg.CatalogSubject, cfg.CatalogTimeout)
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()
		}
	}

	// Step 4: Start the deployment
	rt, err := NewRuntime(cfg, dep, endpoints, s.nc)
	if err != nil {
		return err
	}
	s.links = rt
	if err := rt.Start(ctx); err != nil {
		_ = rt.Stop(context.Background())
		return fmt.Errorf("%s - failed to start deployment: %w", logPrefix, err)
	}

	// Step 5: HTTP health server
	s.httpServer = &http.Server{Addr: cfg.ListenAddr(), Handler: s.routes()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info(fmt.Sprintf("%s - Shutting down", logPrefix))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return rt.Stop(shutdownCtx)
	})
	slog.Info(fmt.Sprintf("%s - Runtime is ready", logPrefix))

	err = g.Wait()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}

func (s *Server) openStore(ctx context.Context) (catalog.Store, error) {
	if s.cfg.CatalogStore != config.CatalogPostgres {
		return catalog.NewMemoryStore(), nil
	}
	pool, err := db.NewPool(ctx, s.cfg.DatabaseURL, db.PoolOptions{ApplicationName: s.cfg.COMMSName})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool
	if s.cfg.RunMigrations {
		migrations, err := db.LoadMigrations(s.cfg.MigrationPath)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if _, err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	return catalog.NewPostgresStore(db.NewRepository(pool)), nil
}

func (s *Server) close() {
	if s.nc != nil {
		_ = s.nc.Drain()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
