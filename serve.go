package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"journal-api/api"
	"journal-api/autosave"
	"journal-api/domain"
	"journal-api/storage"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the journal HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(configPath, nil)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// redisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" || strings.Contains(parts[0], "=") {
		return nil, errors.New("invalid redis connection string")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func openStore(cfg *Config) (domain.TaskStorage, func(), error) {
	switch cfg.Store.Driver {
	case driverSQLite:
		db, err := storage.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	default:
		st, err := storage.New(cfg.Store.ConnectionString, cfg.Store.TasksTable)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}
}

func newAuth(cfg *Config) (*api.Auth, error) {
	authCfg := api.AuthConfig{
		Audience:     cfg.Auth.Audience,
		ClientID:     cfg.Auth.ClientID,
		Issuer:       cfg.Issuer(),
		AllowedEmail: cfg.Auth.AllowedEmail,
		TestMode:     cfg.Auth.TestMode,
		TestSecret:   []byte(cfg.Auth.TestSecret),
		KeyCacheTTL:  cfg.Auth.JWKSCacheTTL,
	}
	if cfg.Auth.TestMode {
		return api.NewAuth(nil, authCfg)
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth.Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, authCfg)
}

func serve(ctx context.Context, cfg *Config) error {
	logger := configureLogging(cfg)
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer closeStore()

	broker := api.NewBroker()
	notifiers := storage.MultiNotifier{}
	var deduper api.Deduper

	if cfg.Redis.URL != "" {
		opts, err := redisOptions(cfg.Redis.URL)
		if err != nil {
			return err
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		st = storage.NewCache(st, rc, cfg.Redis.CacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DedupeTTL)
		// Changes travel through redis so every instance's subscribers hear
		// them, including this one's.
		notifiers = append(notifiers, storage.NewRedisNotifier(rc, cfg.Redis.ChangesChannel))
		go storage.SubscribeChanges(ctx, logger, rc, cfg.Redis.ChangesChannel, broker.Dispatch)
	} else {
		notifiers = append(notifiers, broker)
	}
	if cfg.Store.EventsQueue != "" {
		q, err := storage.NewQueueNotifier(cfg.Store.ConnectionString, cfg.Store.EventsQueue)
		if err != nil {
			return fmt.Errorf("change queue: %w", err)
		}
		notifiers = append(notifiers, q)
	}

	svc := domain.NewTaskService(st, notifiers, loc)
	saver := autosave.New(cfg.AutosaveDelay, func(ctx context.Context, owner, id string, patch domain.TaskPatch) error {
		_, err := svc.Edit(ctx, owner, id, patch)
		return err
	}, logger)

	auth, err := newAuth(cfg)
	if err != nil {
		return err
	}
	var session *api.Session
	if cfg.Auth.ClientID != "" {
		oauthCfg := api.NewOAuthConfig(cfg.Auth.Domain, cfg.Auth.ClientID, cfg.Auth.ClientSecret, cfg.Auth.RedirectURL)
		session = api.NewSession(oauthCfg, auth, cfg.Auth.CookieSecure, logger)
	}
	pages, err := api.NewRenderer()
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(echoprometheus.NewMiddleware("journal"))

	api.Register(e, api.Deps{
		Tasks:   svc,
		Drafts:  saver,
		Auth:    auth,
		Session: session,
		Events:  broker,
		Pages:   pages,
		Deduper: deduper,
		Logger:  logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "driver": cfg.Store.Driver, "version": version}).Info("journal-api listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	drain(logger, e, broker, saver, shutdownTimeout)
	return nil
}

// drain ends open streams, stops the HTTP server and then flushes pending
// drafts. The server and the saver each get their own timeout.
func drain(logger *log.Logger, e *echo.Echo, broker *api.Broker, saver *autosave.Saver, timeout time.Duration) {
	broker.Close()

	httpCtx, cancel := context.WithTimeout(context.Background(), timeout)
	if err := e.Shutdown(httpCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	cancel()

	saveCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := saver.Close(saveCtx); err != nil {
		logger.WithError(err).Error("flush pending drafts")
	}
}
