package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/parley/internal/auth"
	"github.com/devilmonastery/parley/internal/auth/handoff"
	"github.com/devilmonastery/parley/internal/config"
	"github.com/devilmonastery/parley/internal/domain/services"
	"github.com/devilmonastery/parley/internal/identity"
	"github.com/devilmonastery/parley/internal/pkg/idgen"
	"github.com/devilmonastery/parley/server/internal/web/handlers"
	"github.com/devilmonastery/parley/server/internal/web/middleware"
	"github.com/devilmonastery/parley/server/internal/web/session"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, opts.cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default().With("component", "server")
	logger.Info("starting server initialization", "environment", cfg.Environment)

	if err := idgen.Initialize(cfg.NodeID); err != nil {
		return fmt.Errorf("failed to initialize ID generator: %w", err)
	}

	if cfg.Auth.JWT.SigningKey == "" {
		return errors.New("auth.jwt.signing_key is required")
	}
	if cfg.Auth.Broker.Secret == "" {
		logger.Warn("auth.broker.secret not configured, every login handoff will be rejected")
	}
	if cfg.Auth.Broker.URL == "" {
		logger.Warn("auth.broker.url not configured, /auth/login is disabled")
	}
	proxies, err := cfg.HTTP.ProxyPrefixes()
	if err != nil {
		return err
	}

	store, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.close()

	sessionSecret, err := sessionSecret(cfg, logger)
	if err != nil {
		return err
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWT.SigningKey, cfg.Auth.JWT.Lifetime)
	sessionMgr := session.NewManager(sessionSecret, cfg.Session.Secure)
	loginService := services.NewLoginService(
		identity.NewResolver(store.accounts),
		store.repos.Users,
		store.repos.Audit,
		slog.Default(),
	)

	h := handlers.New(handlers.Deps{
		Login:    loginService,
		Users:    services.NewUserService(store.repos),
		Tokens:   jwtManager,
		Verifier: handoff.NewVerifier(cfg.Auth.Broker.Secret, cfg.Auth.Broker.Issuer),
		Sessions: sessionMgr,
		Health:   store.health,

		BrokerURL:      cfg.Auth.Broker.URL,
		TrustedProxies: proxies,
	}, slog.Default())
	authMw := middleware.NewAuthMiddleware(sessionMgr, jwtManager, slog.Default())

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           handlers.NewRouter(h, authMw, slog.Default().With("component", "http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// sessionSecret picks the cookie key: SESSION_SECRET env var, then config, then a
// random per-process key (sessions will not survive a restart).
func sessionSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if envSecret := os.Getenv("SESSION_SECRET"); envSecret != "" {
		key, err := base64.StdEncoding.DecodeString(envSecret)
		if err == nil {
			logger.Info("using session secret", slog.String("source", "environment variable"))
			return key, nil
		}
		logger.Warn("failed to decode SESSION_SECRET env var, trying config", slog.Any("error", err))
	}

	key, err := cfg.Session.SessionKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		logger.Info("using session secret", slog.String("source", "config file"))
		return key, nil
	}

	logger.Warn("no session secret configured, generating random one (sessions won't persist)")
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	return key, nil
}
