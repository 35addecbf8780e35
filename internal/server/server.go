// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: it builds the document store, the
// identity provider, the session services, and the reconciliation flow, and
// wires them to routes. Each layer only receives what it needs — the handler
// gets the service, the service gets interfaces, and nothing below the
// handler knows HTTP exists.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hndang/authbridge/internal/auth"
	"github.com/hndang/authbridge/internal/config"
	"github.com/hndang/authbridge/internal/handler"
	"github.com/hndang/authbridge/internal/middleware"
	"github.com/hndang/authbridge/internal/provider"
	"github.com/hndang/authbridge/internal/provider/google"
	"github.com/hndang/authbridge/internal/provider/local"
	"github.com/hndang/authbridge/internal/service"
	sqlitestore "github.com/hndang/authbridge/internal/store/sqlite"
)

// Server owns the router and the resources that must be released on
// shutdown (the document store's database handle).
type Server struct {
	router *chi.Mux
	cfg    config.Config
	logger *slog.Logger
	db     *sqlitestore.DB
}

// New assembles the dependency graph and the route table.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqlitestore.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes wires middleware, the provider, and the handlers.
//
// ROUTE STRUCTURE:
//
//	GET  /auth/google/login     → consent-page redirect
//	GET  /auth/google/callback  → settle federated sign-in (or 409 conflict)
//	GET  /auth/google/resume    → settle a parked redirect handshake
//	POST /auth/google/link      → finish linking with the collected password
//	POST /api/register          → password account creation
//	POST /api/login             → password sign-in
//	POST /api/session           → Bearer ID-token → session cookie
//	POST /api/logout            → clear session
//	GET  /api/me                → profile of the signed-in account
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	tokens, err := auth.NewTokenService(s.cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	bind, authURL, err := s.buildProvider(tokens)
	if err != nil {
		return err
	}

	// The base service carries the unbound provider; the callback handler
	// derives a request-scoped copy bound to its authorization code.
	svc := service.NewAuthService(bind(""), s.db, service.NoPrompt, provider.TagGoogle, s.logger)
	authHandler := handler.NewAuthHandler(svc, bind, authURL, tokens, s.logger)

	s.router.Route("/auth/google", func(r chi.Router) {
		r.Get("/login", authHandler.HandleGoogleLogin)
		r.Get("/callback", authHandler.HandleGoogleCallback)
		r.Get("/resume", authHandler.HandleGoogleResume)
		r.Post("/link", authHandler.HandleGoogleLink)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandlePasswordLogin)
		r.Post("/session", authHandler.HandleSession)
		r.Post("/logout", authHandler.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", authHandler.HandleMe)
		})
	})

	return nil
}

// buildProvider constructs the configured identity provider and returns the
// per-request binder plus the consent-URL builder.
//
// The local provider ignores authorization codes and fakes the consent page
// with a loopback URL, so the whole flow is drivable with no Google project.
func (s *Server) buildProvider(tokens *auth.TokenService) (handler.ProviderBinder, func(string) string, error) {
	switch s.cfg.Provider {
	case "google":
		gp := google.New(google.Config{
			APIKey:       s.cfg.GoogleAPIKey,
			ClientID:     s.cfg.GoogleClientID,
			ClientSecret: s.cfg.GoogleClientSecret,
			CallbackURL:  s.cfg.GoogleCallbackURL,
		})
		bind := func(code string) provider.IdentityProvider {
			if code == "" {
				return gp
			}
			return gp.WithAuthCode(code)
		}
		return bind, gp.AuthURL, nil

	case "local":
		lp := local.New(auth.NewPasswordService(), tokens)
		bind := func(string) provider.IdentityProvider { return lp }
		authURL := func(state string) string {
			return "/auth/google/callback?code=local&state=" + url.QueryEscape(state)
		}
		return bind, authURL, nil

	default:
		return nil, nil, fmt.Errorf("unknown provider %q", s.cfg.Provider)
	}
}

// Start runs the HTTP server and handles graceful shutdown.
//
// Shutdown order matters: stop accepting connections, drain in-flight
// requests (30s budget), then close the database so the WAL is flushed and
// the file lock released.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("provider", s.cfg.Provider),
			slog.String("database", s.cfg.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
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
