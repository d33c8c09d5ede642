// Package app assembles the gateway from its parts and owns the process
// lifecycle: store selection, backend client, guard, HTTP server, the
// session cleanup loop, and coordinated shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/homedesign/portal-gateway/internal/backend"
	"github.com/homedesign/portal-gateway/internal/config"
	"github.com/homedesign/portal-gateway/internal/guard"
	"github.com/homedesign/portal-gateway/internal/http/handler"
	"github.com/homedesign/portal-gateway/internal/http/router"
	"github.com/homedesign/portal-gateway/internal/observability"
	"github.com/homedesign/portal-gateway/internal/security"
	"github.com/homedesign/portal-gateway/internal/session"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime

	cleanup func(context.Context)
	closers []func() error
}

// New builds a fully wired gateway from cfg. The observability runtime must
// already be initialized; the app takes ownership of shutting it down.
func New(cfg *config.Config, runtime *observability.Runtime) (*App, error) {
	a := &App{Config: cfg, Logger: runtime.Logger, Observability: runtime}

	store, err := a.buildStore(cfg)
	if err != nil {
		return nil, err
	}

	var clientOpts []backend.Option
	if cfg.OTELHTTPEnabled {
		clientOpts = append(clientOpts, backend.WithOTelTransport())
	}
	client := backend.NewClient(cfg.BackendBaseURL, clientOpts...)

	g := guard.New(store, client, cfg.SessionTTL, cfg.LoginPath)
	cookies := security.NewCookieManager(cfg.CookieName, cfg.CookieSigningSecret, cfg.SessionTTL, cfg.CookieSecure)

	target, err := url.Parse(cfg.BackendBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base URL: %w", err)
	}
	proxy := handler.NewBackendProxy(target, g)

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:       handler.NewAuthHandler(g, client, cookies, cfg.HomePath),
		BackendProxy:      proxy,
		Guard:             g,
		Cookies:           cookies,
		LoginPath:         cfg.LoginPath,
		HomePath:          cfg.HomePath,
		LoginRateLimitRPM: cfg.LoginRateLimitRPM,
		EnableOTelHTTP:    cfg.OTELHTTPEnabled,
	})

	a.Server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return a, nil
}

func (a *App) buildStore(cfg *config.Config) (session.Store, error) {
	switch cfg.SessionStore {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connect session redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return session.NewRedisStore(client, cfg.CookieName), nil
	case config.StoreGorm:
		store, err := session.OpenGormStore(cfg.SessionDSN)
		if err != nil {
			return nil, fmt.Errorf("open session database: %w", err)
		}
		a.cleanup = func(ctx context.Context) {
			removed, err := store.CleanupExpired(ctx)
			if err != nil {
				a.Logger.Warn("session cleanup failed", "error", err)
				return
			}
			if removed > 0 {
				a.Logger.Info("expired sessions removed", "count", removed)
			}
		}
		return store, nil
	default:
		return session.NewInMemoryStore(), nil
	}
}

// Run serves until ctx is cancelled, then drains connections and shuts the
// observability pipeline down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("gateway listening",
			"addr", a.Server.Addr,
			"store", string(a.Config.SessionStore),
			"backend", a.Config.BackendBaseURL)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	cleanupDone := make(chan struct{})
	go a.runCleanupLoop(loopCtx, cleanupDone)

	select {
	case err := <-errCh:
		stopLoop()
		<-cleanupDone
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down", "timeout", a.Config.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain http server: %w", err))
	}
	<-cleanupDone
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Observability.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown observability: %w", err))
	}
	return errors.Join(errs...)
}

// runCleanupLoop periodically removes expired rows when the gorm store is
// in use. Redis and the in-memory store expire entries on their own.
func (a *App) runCleanupLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	if a.cleanup == nil || a.Config.SessionCleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.Config.SessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cleanup(ctx)
		}
	}
}
