package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/franckalain/chocobrew/internal/auth"
	"github.com/franckalain/chocobrew/internal/batch"
	"github.com/franckalain/chocobrew/internal/logger"
	"github.com/franckalain/chocobrew/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies at 16 MB.
const maxBodyBytes = 16 << 20

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires a Server.
type Options struct {
	Batches      *batch.Service
	Auth         *auth.Service
	DB           Pinger
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Log          *zap.Logger
	CookieName   string
	StaticDir    string
	SecureCookie bool
	Debug        bool

	// AllowedOrigins are the cross-origin callers allowed to use the API
	// with credentials. Empty disables CORS.
	AllowedOrigins []string
}

type Server struct {
	batches      *batch.Service
	auth         *auth.Service
	db           Pinger
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	log          *zap.Logger
	cookieName   string
	staticDir    string
	secureCookie bool
	debug        bool
	clients      sync.Map

	allowedOrigins []string
}

func New(opts Options) *Server {
	s := &Server{
		batches:      opts.Batches,
		auth:         opts.Auth,
		db:           opts.DB,
		metrics:      opts.Metrics,
		gatherer:     opts.Gatherer,
		log:          opts.Log,
		cookieName:   opts.CookieName,
		staticDir:    opts.StaticDir,
		secureCookie: opts.SecureCookie,
		debug:        opts.Debug,

		allowedOrigins: opts.AllowedOrigins,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.cookieName == "" {
		s.cookieName = "chocobrew_session"
	}
	if s.debug {
		s.log.Debug("Debug logging enabled")
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(s.log))
	r.Use(s.countRequests)
	r.Use(s.recoverer)
	r.Use(limitBody(maxBodyBytes))
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/accounts", s.handleRegister)
		r.Post("/sessions", s.handleLogin)
		r.Delete("/sessions", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireOwner)
			r.Post("/batches", s.handleCreateBatch)
			r.Get("/batches", s.handleListBatches)
		})

		r.Get("/public/batches/{id}", s.handlePublicBatch)
		r.Get("/public/batches/code/{code}", s.handlePublicBatchByCode)
	})

	r.Get("/batches/{id}", s.handleBatchPage)
	r.Get("/batches/{id}/qr.png", s.handleBatchQR)

	if s.staticDir != "" {
		r.Handle("/*", s.staticFiles())
	}
	r.NotFound(s.notFound)
	return r
}

// Start serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting server", zap.String("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.closeClients()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.log.Warn("Health check failed", zap.Error(err))
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		s.metrics.HTTPRequest(route, ww.Status())
	})
}

func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
