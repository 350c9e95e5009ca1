package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"membership-payments/internal/config"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterDeps groups what the HTTP surface needs.
type RouterDeps struct {
	Payments PaymentService
	// Tokens is optional; nil leaves the /api/v1/tokens routes unregistered.
	Tokens   TokenService
	Renderer *Renderer
	// Auth protects /api/v1; nil disables authentication.
	Auth   *Authenticator
	Health map[string]HealthCheck
}

// NewRouter builds the chi router: payments and tokens API, gateway webhooks, health and metrics.
func NewRouter(cfg config.HTTPConfig, deps RouterDeps, logger *zerolog.Logger) http.Handler {
	h := &handlers{svc: deps.Payments, rd: deps.Renderer}
	base := Base(logger)

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/healthz", base.ThenFunc(healthHandler(deps.Health, deps.Renderer)))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	webhook := base.Append(Timeout(cfg.WebhookTimeout)).ThenFunc(h.webhook)
	r.Method(http.MethodPost, "/webhooks/{gateway}", webhook)
	r.Method(http.MethodGet, "/webhooks/{gateway}", webhook)

	apiChain := base.Append(
		cors.New(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language", traceHeader},
			ExposedHeaders: []string{traceHeader},
		}).Handler,
		deps.Auth.Require(deps.Renderer),
		Timeout(cfg.RequestTimeout),
	)
	r.Route("/api/v1/payments", func(r chi.Router) {
		// Sub-router middleware runs before method matching, so CORS preflights are answered.
		r.Use(apiChain.Then)
		r.Post("/", h.initiate)
		r.Get("/{attemptId}", h.status)
		r.Post("/{attemptId}/cancel", h.cancel)
	})
	if deps.Tokens != nil {
		th := &tokenHandlers{svc: deps.Tokens, rd: deps.Renderer}
		r.Route("/api/v1/tokens/{userId}/{category}", func(r chi.Router) {
			r.Use(apiChain.Then)
			r.Get("/", th.balance)
			r.Post("/consume", th.consume)
		})
	}
	return r
}

func healthHandler(checks map[string]HealthCheck, rd *Renderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		out := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out[name] = "down"
				continue
			}
			out[name] = "ok"
		}
		rd.JSON(w, status, out)
	}
}

// Server owns the net/http server lifecycle.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

func NewServer(cfg config.HTTPConfig, handler http.Handler, logger *zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.log.Info().Msg("http server shutting down")
	return s.srv.Shutdown(shutdownCtx)
}
