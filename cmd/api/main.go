package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ngoportal.org/internal/audit"
	"ngoportal.org/internal/auth"
	"ngoportal.org/internal/config"
	"ngoportal.org/internal/db"
	"ngoportal.org/internal/httpapi"
	"ngoportal.org/internal/obs"
	"ngoportal.org/internal/revocation"
	"ngoportal.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ngo-portal-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := config.Flags("api")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}

	log := obs.NewLogger(cfg.Environment)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executor := db.New(db.Config{
		DSN:             cfg.Database.DSN,
		PoolMin:         cfg.Database.PoolMin,
		PoolMax:         cfg.Database.PoolMax,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
		MockFallback:    cfg.Database.MockFallback,
	}, db.WithLogger(log.With().Str("component", "db").Logger()))
	if err := executor.Open(ctx); err != nil {
		log.Warn().Err(err).Msg("database unavailable at startup; serving degraded")
	}
	defer executor.Close()

	tokens, err := auth.NewTokenIssuer(cfg.Security.JWTSecret, auth.WithIssuer(cfg.Security.Issuer))
	if err != nil {
		return err
	}
	opts := []auth.Option{
		auth.WithLogger(log.With().Str("component", "auth").Logger()),
		auth.WithPasswordPolicy(auth.MinLength(cfg.Security.PasswordMinLength)),
	}
	if cfg.Redis.Addr != "" {
		client, err := revocation.NewRedisClient(ctx, revocation.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, auth.WithDenylist(revocation.NewStore(client)))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("token revocation enabled")
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return err
	}

	store := pg.New(executor, log.With().Str("component", "store").Logger())
	svc, err := auth.NewService(store, tokens, opts...)
	if err != nil {
		return err
	}

	api := httpapi.New(svc, version,
		httpapi.WithDatabase(executor),
		httpapi.WithAudit(audit.New(log)),
		httpapi.WithLogger(log),
		httpapi.WithDevelopment(cfg.IsDevelopment()),
		httpapi.WithRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond),
		httpapi.WithTrustedProxies(proxies),
		httpapi.WithCORSOrigins(cfg.CORS.Origins),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("env", cfg.Environment).Msg("starting ngo-portal-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	return shutdown(srv, log)
}

func shutdown(srv *http.Server, log zerolog.Logger) error {
	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("stopped")
	return nil
}
