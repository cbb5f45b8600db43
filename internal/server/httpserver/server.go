// Package httpserver exposes the task-server HTTP API: incident
// ingestion, PR feedback, the GitHub webhook, trace and bug-case reads,
// and the static UI.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"git.home.luguber.info/inful/repairops/internal/config"
	"git.home.luguber.info/inful/repairops/internal/runner"
	smw "git.home.luguber.info/inful/repairops/internal/server/middleware"
	"git.home.luguber.info/inful/repairops/internal/store"
)

// Options carry the server's collaborators.
type Options struct {
	Store          *store.Store
	Queue          *runner.Queue
	Tasks          *runner.Tasks
	MetricsHandler http.Handler
}

// Server wires the HTTP API.
type Server struct {
	cfg  *config.Server
	opts Options

	httpSrv *http.Server
	mchain  func(http.Handler) http.Handler
}

// New constructs the server. Start binds and serves.
func New(cfg *config.Server, opts Options) *Server {
	s := &Server{
		cfg:    cfg,
		opts:   opts,
		mchain: smw.Chain(slog.Default()),
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.mchain(s.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/tasks", s.requireAPIKey(http.HandlerFunc(s.handleIngestTask)))
	mux.Handle("POST /v1/pr-comments", s.requireAPIKey(http.HandlerFunc(s.handlePRComment)))
	mux.HandleFunc("POST /v1/webhooks/github", s.handleGitHubWebhook)
	mux.HandleFunc("POST /v1/debug/retrieval", s.handleDebugRetrieval)

	mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /v1/traces", s.handleListTraces)
	mux.HandleFunc("GET /v1/traces/{id}", s.handleGetTrace)
	mux.HandleFunc("GET /v1/bug-cases", s.handleListBugCases)
	mux.HandleFunc("GET /v1/bug-cases/{id}", s.handleGetBugCase)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.opts.MetricsHandler)
	}

	mux.Handle("/", s.staticHandler())
	return mux
}

// Handler exposes the full routed handler, used by tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Start pre-binds the listen port so startup failures surface
// immediately, then serves in the background.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Addr(), err)
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", slog.Any("error", err))
		}
	}()
	slog.Info("HTTP server started", slog.String("addr", s.cfg.Addr()))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}
