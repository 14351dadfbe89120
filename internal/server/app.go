// Package server initializes and runs the chatline process: message store,
// hub, HTTP API and the optional presence mirror.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/chatline/internal/auth"
	"github.com/Tyrowin/chatline/internal/logging"
	"github.com/Tyrowin/chatline/internal/messages"
	"github.com/Tyrowin/chatline/internal/presence"
)

// ErrMissingSecret means no JWT_SECRET was configured. There is no built-in
// fallback: a secret anyone can read would let anyone mint tokens.
var ErrMissingSecret = errors.New("JWT secret is not configured")

const (
	shutdownTimeout  = 10 * time.Second
	redisPingTimeout = 3 * time.Second
)

// App owns every long-lived component of one server process.
type App struct {
	cfg    Config
	logger logging.Logger
	hub    *Hub
	server *http.Server
	mirror *presence.RedisMirror
	db     *sql.DB
	rdb    *redis.Client
}

// NewApp builds the process from cfg. With useMemory set, or no DATABASE_DSN,
// messages live in memory; otherwise Postgres is opened and migrated.
func NewApp(ctx context.Context, cfg Config, useMemory bool, logger logging.Logger) (*App, error) {
	cfg = cfg.Sanitize()
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	app := &App{cfg: cfg, logger: logger}

	var store messages.Store
	if useMemory || cfg.DatabaseDSN == "" {
		logger.Info(ctx, "using in-memory message store")
		store = messages.NewMemoryStore()
	} else {
		db, err := messages.OpenPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.db = db
		store = messages.NewPostgresStore(db)
	}

	var observers []PresenceObserver
	if cfg.Redis.Addr != "" {
		app.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		if err := app.rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn(ctx, "redis not reachable, presence mirror will retry on next change", "addr", cfg.Redis.Addr, "error", err)
		}
		cancel()
		app.mirror = presence.NewRedisMirror(app.rdb, cfg.Redis.Key, logger)
		observers = append(observers, app.mirror)
	}

	app.hub = NewHub(logger.With("component", "hub"), observers...)
	svc := messages.NewService(store, app.hub, logger.With("component", "messages"))
	authn := auth.NewAuthenticator([]byte(cfg.JWTSecret))
	api := NewAPI(cfg, app.hub, authn, svc, logger)
	app.server = CreateServer(cfg.Port, SetupRoutes(api))

	return app, nil
}

// Hub exposes the presence registry, mostly for tests and tooling.
func (app *App) Hub() *Hub {
	return app.hub
}

// Handler returns the HTTP handler serving the API and the WebSocket endpoint.
func (app *App) Handler() http.Handler {
	return app.server.Handler
}

// Run serves until ctx is canceled or a component fails, then shuts
// everything down.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "starting chatline", "addr", app.cfg.Port)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.hub.Run()
		return nil
	})

	g.Go(func() error {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if app.mirror != nil {
		g.Go(func() error {
			return app.mirror.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info(context.Background(), "shutdown signal received")
		if err := ShutdownServer(app.server, shutdownTimeout, app.logger); err != nil {
			app.logger.Warn(context.Background(), "HTTP server did not stop cleanly", "error", err)
		}
		if err := app.hub.Shutdown(shutdownTimeout); err != nil {
			app.logger.Warn(context.Background(), "hub did not stop cleanly", "error", err)
		}
		return nil
	})

	err := g.Wait()
	app.close()
	return err
}

func (app *App) close() {
	if app.rdb != nil {
		if err := app.rdb.Close(); err != nil {
			app.logger.Warn(context.Background(), "redis close failed", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Warn(context.Background(), "db close failed", "error", err)
		}
	}
}
