// Package app wires the chatd server runtime: config, logging, stores, HTTP
// routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity"
	authapi "github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/auth/api"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/auth/middleware"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/auth/session"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/directory"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/metrics"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/presence"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/realtime"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/security/password"
)

// App is the chatd runtime. It owns the HTTP server and every resource the
// handlers share.
type App struct {
	cfg Config
	log Logger

	handler http.Handler
	router  *realtime.Router
	ws      *realtime.WSGateway
	users   identity.Store
	metrics *metrics.Metrics

	dbPool *pgxpool.Pool
	redis  *redis.Client
}

// New constructs a fully wired App. Package configs (session, auth, realtime,
// password) are read from the environment here.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, sessCfg); err != nil {
		return nil, err
	}
	passwords, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	authCfg := authapi.LoadConfigFromEnv()
	wsCfg := realtime.LoadConfigFromEnv()

	a := &App{cfg: cfg, log: log, metrics: metrics.New()}

	users, err := a.openIdentityStore(ctx)
	if err != nil {
		return nil, err
	}
	a.users = users
	refreshStore, err := a.openRefreshStore(ctx, users)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	sessions, err := session.NewService(sessCfg, refreshStore,
		session.WithLogger(log),
		session.WithRefreshObserver(a.metrics),
	)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	auth, err := authapi.NewHandler(log, authCfg, users, sessions, passwords,
		authapi.WithLoginObserver(a.metrics),
	)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	dir, err := directory.NewHandler(log, users)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.router = realtime.NewRouter(presence.NewRegistry(), users,
		realtime.WithRouterLogger(log),
		realtime.WithObserver(a.metrics),
		realtime.WithLastSeenTimeout(wsCfg.LastSeenTimeout),
	)
	a.ws = realtime.NewWSGateway(log, a.router, wsCfg,
		realtime.WithIdentityResolver(func(r *http.Request) (string, bool) {
			id := middleware.UserIDFrom(r.Context())
			return id, id != ""
		}),
		realtime.WithGatewayObserver(a.metrics),
	)

	a.handler = newHTTPHandler(routes{
		log:       log,
		cfg:       cfg,
		dbPool:    a.dbPool,
		metrics:   a.metrics,
		auth:      auth,
		directory: dir,
		ws:        a.ws,
		session: middleware.Session(sessions, users,
			middleware.WithCookieName(auth.AccessCookieName()),
			middleware.WithLogger(log),
		),
		wsRequireAuth: wsCfg.RequireAuth,
	})

	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Router returns the realtime router.
func (a *App) Router() *realtime.Router { return a.router }

// Run starts the HTTP server and blocks until ctx is cancelled or the server
// fails. Shared resources are closed before it returns.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		a.closeResources()
		a.log.Error("server.listen.fail", "addr", a.cfg.HTTPAddr, "err", err)
		return err
	}
	return a.serve(ctx, ln)
}

// serve runs the HTTP server on ln. On shutdown it drains HTTP requests, then
// closes every realtime channel and waits for their last-seen writes before
// releasing the stores.
func (a *App) serve(ctx context.Context, ln net.Listener) error {
	defer a.closeResources()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start",
			"addr", ln.Addr().String(),
			"db_enabled", a.dbPool != nil,
			"redis_enabled", a.redis != nil,
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		// Hijacked websocket connections are not tracked by srv.
		httpErr := srv.Shutdown(shutdownCtx)
		if httpErr != nil {
			a.log.Error("server.shutdown.fail", "err", httpErr)
		}
		if err := a.ws.Shutdown(shutdownCtx); err != nil {
			a.log.Error("ws.shutdown.fail", "open", a.router.Hub().Len(), "err", err)
			return err
		}
		return httpErr
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

// openIdentityStore picks Postgres when a database is configured and the
// in-memory store otherwise.
func (a *App) openIdentityStore(ctx context.Context) (identity.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), nil
	}

	if a.cfg.MigrateOnStart {
		if err := Migrate(a.cfg.DatabaseURL, MigrateUp); err != nil {
			return nil, err
		}
		a.log.Info("db.migrate.ok", "direction", MigrateUp)
	}

	pool, err := OpenPool(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	store, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.dbPool = pool
	a.log.Info("db.enabled.postgres_store")
	return store, nil
}

// openRefreshStore returns the Redis refresh store when CHAT_REDIS_URL is set
// and the identity store otherwise.
func (a *App) openRefreshStore(ctx context.Context, users identity.Store) (session.Store, error) {
	if a.cfg.RedisURL == "" {
		return users, nil
	}

	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	a.redis = client
	a.log.Info("redis.enabled.refresh_store", "addr", opts.Addr)
	return session.NewRedisStore(client, users, a.cfg.RedisPrefix), nil
}

func (a *App) closeResources() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
