// Package server provides the HTTP transport for the gateway.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/opsgate/opsgate/api"
	"github.com/opsgate/opsgate/internal/capability"
	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/diag"
	"github.com/opsgate/opsgate/internal/dispatch"
	"github.com/opsgate/opsgate/internal/httputil"
)

// HTTPServer wraps gateway HTTP routing state.
type HTTPServer struct {
	cfg      config.Config
	version  string
	commit   string
	build    string
	registry *capability.Registry
	pipeline *dispatch.Pipeline
	engine   *diag.Engine
	authn    SessionAuthenticator
	ready    func() error
	logger   zerolog.Logger
}

// NewHTTPServer creates the HTTP transport server.
func NewHTTPServer(
	cfg config.Config,
	version, commit, buildDate string,
	registry *capability.Registry,
	pipeline *dispatch.Pipeline,
	engine *diag.Engine,
	authn SessionAuthenticator,
	ready func() error,
	logger zerolog.Logger,
) *HTTPServer {
	return &HTTPServer{
		cfg:      cfg,
		version:  version,
		commit:   commit,
		build:    buildDate,
		registry: registry,
		pipeline: pipeline,
		engine:   engine,
		authn:    authn,
		ready:    ready,
		logger:   logger,
	}
}

// Router builds the gateway HTTP router.
func (s *HTTPServer) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(httputil.RequestID)
	r.Use(httputil.RequestLogger(s.logger))
	r.Use(httputil.Recoverer(s.logger))
	r.Use(httputil.SecureHeaders)
	r.Use(httputil.BodyLimit(1 << 20))

	r.Get("/health", httputil.HealthHandler())
	r.Get("/readiness", httputil.ReadinessHandler(s.ready))
	r.Get("/version", httputil.VersionHandler(s.version, s.commit, s.build))

	r.Get("/api/capabilities.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(api.CapabilitiesMetadata)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/invoke", s.handleInvoke)
		r.Get("/capabilities", s.handleListCapabilities)
		r.Get("/diagnostics", s.handleDiagnostics)
		r.Get("/diagnostics/checks", s.handleListChecks)
		r.Get("/diagnostics/checks/{domain}/{action}", s.handleRunCheck)
		r.Post("/diagnostics/policy", s.handlePolicy)
	})

	return r
}

type principalKey struct{}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.authn.Authenticate(r)
		if err != nil {
			httputil.RespondProblem(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := withPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
