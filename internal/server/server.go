// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: the store comes in from main, everything
// else (token and password services, avatar store, account service,
// handlers) is assembled in New.
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
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/avatar"
	"github.com/sakif/account-service/internal/handler"
	"github.com/sakif/account-service/internal/middleware"
	"github.com/sakif/account-service/internal/repository"
	"github.com/sakif/account-service/internal/service"
)

// Config holds server configuration.
type Config struct {
	Port       int
	PublicURL  string // base for avatar URLs, e.g. http://localhost:3000
	JWTSecret  string
	CostFactor int    // bcrypt work factor
	AvatarDir  string // directory served at /images/
}

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the store: Start closes it after the HTTP server has
// drained, so in-flight requests never see a closed pool.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	store  repository.UserStore
}

// New wires the application on top of store.
//
//  1. auth.TokenService + auth.PasswordService from config
//  2. avatar.Store rooted at AvatarDir
//  3. service.AccountService over store
//  4. handler.AccountHandler over the service
//  5. routes
//
// New does not close store on error; the caller opened it.
func New(cfg Config, store repository.UserStore, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	passwords, err := auth.NewPasswordService(cfg.CostFactor)
	if err != nil {
		return nil, fmt.Errorf("creating password service: %w", err)
	}
	avatars, err := avatar.NewStore(cfg.AvatarDir)
	if err != nil {
		return nil, fmt.Errorf("creating avatar store: %w", err)
	}

	accounts := service.NewAccountService(store, tokens, passwords, avatars,
		service.AccountConfig{PublicURL: cfg.PublicURL}, logger)

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}
	s.setupRoutes(accounts, avatars)

	return s, nil
}

// Handler returns the root HTTP handler, for httptest and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /users/register      → create account
// POST   /users/login         → start a session
// POST   /users/logout        → end the session          [session]
// GET    /users/current       → caller's profile          [session]
// PATCH  /users/subscription  → change plan               [session]
// PATCH  /users/avatar        → upload avatar             [session]
// GET    /images/*            → avatar files
// GET    /healthz             → store reachability
//
// MIDDLEWARE ORDER MATTERS:
// RequestID runs first so the logger can report it; Recoverer sits inside
// the logger so a panic is still logged as a 500.
func (s *Server) setupRoutes(accounts *service.AccountService, avatars *avatar.Store) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	accountHandler := handler.NewAccountHandler(accounts, avatars, s.logger)

	s.router.Get("/healthz", accountHandler.HandleHealth)

	// GET /images/abc.png → {AvatarDir}/abc.png
	fileServer := http.FileServer(http.Dir(avatars.Dir()))
	s.router.Handle(avatar.RoutePrefix+"*", http.StripPrefix(avatar.RoutePrefix, fileServer))

	s.router.Route("/users", func(r chi.Router) {
		r.Post("/register", accountHandler.HandleRegister)
		r.Post("/login", accountHandler.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(accounts, s.logger))

			r.Post("/logout", accountHandler.HandleLogout)
			r.Get("/current", accountHandler.HandleCurrent)
			r.Patch("/subscription", accountHandler.HandleUpdateSubscription)
			r.Patch("/avatar", accountHandler.HandleUpdateAvatar)
		})
	})
}

// Start serves HTTP until SIGINT/SIGTERM, then shuts down gracefully:
//  1. stop accepting new connections
//  2. wait up to 30s for in-flight requests
//  3. close the store
func (s *Server) Start() error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("public_url", s.config.PublicURL),
			slog.String("avatar_dir", s.config.AvatarDir),
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
