// Package server is the composition root: it builds every dependency from
// the config, wires handlers to routes and runs the HTTP server.
//
// DEPENDENCY FLOW:
//
//	config → sqlite.DB, encryption, TokenService, state store
//	       → services (auth, workspace, pool, githubapp)
//	       → handlers → chi routes
//
// Handlers never touch the database and services never touch HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/hive/internal/auth"
	"github.com/sakif/hive/internal/config"
	"github.com/sakif/hive/internal/encryption"
	"github.com/sakif/hive/internal/github"
	"github.com/sakif/hive/internal/githubapp"
	"github.com/sakif/hive/internal/handler"
	"github.com/sakif/hive/internal/kv"
	"github.com/sakif/hive/internal/middleware"
	"github.com/sakif/hive/internal/poolmanager"
	sqliteRepo "github.com/sakif/hive/internal/repository/sqlite"
	"github.com/sakif/hive/internal/service"
)

// Server owns the router and every resource that must be closed on shutdown.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger

	db      *sqliteRepo.DB
	closers []io.Closer
}

// New opens the database (and Redis when configured) and wires all routes.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// stateStore picks Redis when REDIS_ADDR is set, the sessions table otherwise.
func (s *Server) stateStore(ctx context.Context) (githubapp.StateStore, error) {
	if s.config.RedisAddr == "" {
		return githubapp.NewSessionStateStore(s.db), nil
	}

	store, err := kv.NewValkeyStore(ctx, kv.ValkeyConfig{
		Addr:     s.config.RedisAddr,
		Password: s.config.RedisPassword,
		DB:       s.config.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, store)
	s.logger.Info("install states stored in redis", slog.String("addr", s.config.RedisAddr))
	return githubapp.NewKVStateStore(store), nil
}

// setupRoutes wires the dependency graph and registers:
//
//	GET  /healthz
//	GET  /auth                          sign-in hint
//	GET  /auth/github/login             → GitHub
//	GET  /auth/github/callback          ← GitHub (sign-in)
//	POST /auth/logout
//	GET  /api/github/app/callback       ← GitHub (App install), always 307
//	     everything else under /api requires a session:
//	GET  /api/me
//	GET  /api/github/app/install
//	GET  /api/github/app/status
//	CRUD /api/workspaces[/{slug}]
//	PUT  /api/workspaces/{slug}/swarm
//	POST /api/pool-manager/create-pool
func (s *Server) setupRoutes(ctx context.Context) error {
	cfg := s.config

	keys, err := cfg.EncryptionKeys()
	if err != nil {
		return err
	}
	enc, err := encryption.New(cfg.EncryptionKeyID, keys)
	if err != nil {
		return fmt.Errorf("creating encryption service: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.SessionSecret)
	if err != nil {
		return err
	}

	states, err := s.stateStore(ctx)
	if err != nil {
		return fmt.Errorf("connecting state store: %w", err)
	}

	appClient := github.NewClient(github.Config{
		ClientID:     cfg.GitHubAppClientID,
		ClientSecret: cfg.GitHubAppClientSecret,
		RedirectURL:  cfg.AppCallbackURL(),
		OAuthURL:     cfg.GitHubURL,
		APIURL:       cfg.GitHubAPIURL,
	})
	signIn := auth.NewGitHubProvider(github.Config{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.OAuthCallbackURL(),
		OAuthURL:     cfg.GitHubURL,
		APIURL:       cfg.GitHubAPIURL,
	})
	pools := poolmanager.NewClient(cfg.PoolManagerURL, nil)

	authService := service.NewAuthService(s.db, s.db, tokens, s.logger)
	workspaceService := service.NewWorkspaceService(s.db, s.db, enc, s.logger)
	poolService := service.NewPoolService(s.db, s.db, s.db, s.db, pools, enc, s.logger)
	appService := githubapp.NewService(
		githubapp.Config{AppSlug: cfg.GitHubAppSlug, GitHubURL: cfg.GitHubURL},
		appClient, states, s.db, s.db, enc, s.logger,
	)

	authHandler := handler.NewAuthHandler(signIn, authService, cfg.IsProduction(), s.logger)
	appHandler := handler.NewGitHubAppHandler(appService, s.logger)
	workspaceHandler := handler.NewWorkspaceHandler(workspaceService, s.logger)
	poolHandler := handler.NewPoolHandler(poolService, s.logger)

	// Middleware runs in the order added.
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	optional := auth.OptionalSession(tokens, s.db)
	required := auth.RequireSession(tokens, s.db)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})

	s.router.Route("/auth", func(r chi.Router) {
		r.Use(optional)
		r.Get("/", authHandler.HandleAuthPage)
		r.Get("/github/login", authHandler.HandleGitHubLogin)
		r.Get("/github/callback", authHandler.HandleGitHubCallback)
		r.Post("/logout", authHandler.HandleLogout)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		// The callback redirects to /auth itself instead of answering 401.
		r.With(optional).Get("/github/app/callback", appHandler.HandleCallback)

		r.Group(func(r chi.Router) {
			r.Use(required)

			r.Get("/me", authHandler.HandleMe)
			r.Get("/github/app/install", appHandler.HandleInstall)
			r.Get("/github/app/status", appHandler.HandleStatus)

			r.Route("/workspaces", func(r chi.Router) {
				r.Get("/", workspaceHandler.HandleList)
				r.Post("/", workspaceHandler.HandleCreate)
				r.Get("/{slug}", workspaceHandler.HandleGet)
				r.Put("/{slug}", workspaceHandler.HandleUpdate)
				r.Delete("/{slug}", workspaceHandler.HandleDelete)
				r.Put("/{slug}/swarm", workspaceHandler.HandleConfigureSwarm)
			})

			r.Post("/pool-manager/create-pool", poolHandler.HandleCreatePool)
		})
	})

	return nil
}

// Close releases the database and any state store connection.
func (s *Server) Close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Warn("closing resource", slog.String("error", err.Error()))
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database", slog.String("error", err.Error()))
	}
}

// writeTimeout leaves room for create-pool to finish its retries and
// write the relayed failure.
const writeTimeout = service.PoolCreateBudget + 5*time.Second

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to 30 seconds and closes every resource.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("baseURL", s.config.BaseURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
