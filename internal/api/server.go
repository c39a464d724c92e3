package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/profile"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Dependencies are the collaborators the API serves. Repo, Cache, Bus and
// Metrics are optional.
type Dependencies struct {
	Engine   *engine.Engine
	Profiles *profile.Manager
	Rules    *rules.Engine
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Metrics  *metrics.Recorder
	Version  string
}

// Server wires the handlers onto a chi router. Probes and /metrics sit at
// the root; everything under /v1 is tenant scoped, rate limited and body
// capped.
type Server struct {
	router  *chi.Mux
	handler *Handler
	config  domain.ServerConfig

	mu     sync.Mutex
	server *http.Server
}

func NewServer(cfg domain.ServerConfig, deps Dependencies) *Server {
	h := NewHandler(deps.Engine, deps.Profiles, deps.Rules, deps.Repo, deps.Cache, deps.Bus, deps.Version)

	r := chi.NewRouter()
	r.Use(
		CORSMiddleware,
		RecoverMiddleware,
		TracingMiddleware,
		LoggingMiddleware,
		MetricsMiddleware(deps.Metrics),
		middleware.RealIP,
		middleware.Compress(5, "application/json"),
	)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(
			TenantMiddleware,
			RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst),
			BodyLimitMiddleware(cfg.MaxBodyBytes),
		)

		v1.Post("/images/analyze", h.AnalyzeImage)
		v1.Post("/transactions/validate", h.ValidateTransaction)
		v1.Post("/deepfake/detect", h.DetectDeepfake)
		v1.Post("/voice/detect", h.DetectVoice)
		v1.Get("/capabilities", h.Capabilities)

		v1.Route("/profile", func(p chi.Router) {
			p.Get("/", h.GetProfile)
			p.Put("/", h.UpdateProfile)
		})

		v1.Route("/rules", func(rules chi.Router) {
			rules.Get("/", h.ListRules)
			rules.Post("/", h.CreateRule)
			rules.Post("/reload", h.ReloadRules)
			rules.Get("/{id}", h.GetRule)
		})
	})

	return &Server{router: r, handler: h, config: cfg}
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	slog.Info("http server listening", "addr", ln.Addr().String())
	return srv.Serve(ln)
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Router exposes the routes for in-process tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) Handler() *Handler {
	return s.handler
}
