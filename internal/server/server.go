package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foyerhq/foyer/internal/gateway"
	"github.com/foyerhq/foyer/internal/otel"
	"github.com/foyerhq/foyer/internal/store"
	"github.com/foyerhq/foyer/internal/upstream"
)

const defaultTimeout = 60 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router      *chi.Mux
	gw          *gateway.Gateway
	store       *store.Store
	provider    upstream.Provider
	cfg         *gateway.Config
	apiKeys     map[string]string
	throttle    *Throttle
	corsOrigins []string
	startTime   time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithThrottle sets the per-client transport throttle (optional).
func WithThrottle(t *Throttle) Option {
	return func(s *Server) { s.throttle = t }
}

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"] for MVP).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer builds a Server with the required dependencies and optional
// Option(s). API keys come from cfg's identity list.
func NewServer(gw *gateway.Gateway, st *store.Store, provider upstream.Provider, cfg *gateway.Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = &gateway.Config{}
		cfg.ApplyDefaults()
	}
	s := &Server{
		router:      chi.NewRouter(),
		gw:          gw,
		store:       st,
		provider:    provider,
		cfg:         cfg,
		apiKeys:     make(map[string]string),
		corsOrigins: []string{"*"},
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, id := range cfg.Identities {
		s.apiKeys[id.APIKey] = id.Name
	}
	return s
}

// Routes returns the configured http.Handler (chi router with all
// middleware and routes). The generation route is registered without
// the default request timeout so the upstream deadline applies
// (middleware.Timeout would override it).
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.Middleware())
	r.Use(ThrottleMiddleware(s.throttle))
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware(s.apiKeys))

		// Conversation routes consume admission quota; cached reads are
		// cheap to serve but still count against the caller's rate.
		r.Group(func(r chi.Router) {
			r.Use(AdmissionMiddleware(s.gw))

			// Generation: no request timeout so the upstream deadline applies
			r.Post("/v1/conversations/{id}/messages", s.handleMessageCreate)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(defaultTimeout))
				r.Get("/v1/conversations", s.handleConversationsList)
				r.Post("/v1/conversations", s.handleConversationCreate)
				r.Get("/v1/conversations/{id}/messages", s.handleMessagesList)
				r.Get("/v1/conversations/{id}/messages/count", s.handleMessageCount)
			})
		})

		// Outside admission so a denied caller can inspect their standing.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))
			r.Get("/v1/limits", s.handleLimits)
		})
	})

	return r
}
