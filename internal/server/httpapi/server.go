// Package httpapi exposes the authentication service over HTTP: the router,
// the request gates, and the JSON handlers.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/vkminiauth/internal/logging"
	"github.com/dmitrijs2005/vkminiauth/internal/server/auth"
	"github.com/dmitrijs2005/vkminiauth/internal/server/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Server is the HTTP front of the auth service.
type Server struct {
	logger logging.Logger
	addr   string
	router chi.Router
}

// NewServer wires the router: CORS, request ids, the auth gates, and the
// endpoint handlers.
func NewServer(cfg *config.Config, l logging.Logger, svc AuthService) *Server {
	logger := l.With("module", "httpapi")
	m := NewMiddleware(cfg, logger, svc)
	h := NewHandlers(logger, svc)

	allowed := cfg.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", auth.VKParamsHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(m.RequestID)

	r.Get("/ping", h.Ping)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)

		r.With(m.RequireVKUser).Post("/vk/login", h.VKLogin)
		r.With(m.VerifyVKParams).Post("/vk/register", h.VKRegister)

		r.With(m.RequireAuth).Get("/me", h.Me)
		r.With(m.OptionalAuth).Get("/session", h.Session)
	})

	return &Server{logger: logger, addr: cfg.EndpointAddr, router: r}
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "starting http server", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
