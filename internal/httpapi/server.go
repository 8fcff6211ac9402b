// Package httpapi implements the orchestrator's HTTP+SSE transport
// (§6): chi-routed handlers for POST/GET /v1/responses and POST
// /v1/vector_stores/{id}/search, wired to the auth middleware, the
// blocking and streaming orchestrators, the item store, and the
// agentic search controller's native file_search tool.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/openresponses/orchestrator/internal/auth"
	"github.com/openresponses/orchestrator/internal/hybrid"
	"github.com/openresponses/orchestrator/internal/itemstore"
	"github.com/openresponses/orchestrator/internal/orchestrator"
	"github.com/openresponses/orchestrator/internal/toolexec"
	"github.com/openresponses/orchestrator/internal/tools"
)

// healthPath is exempted from auth, matching the gRPC interceptor's
// own health-check exemption (StaticAuthenticator's skipMethods in
// internal/auth/static.go).
const healthPath = "/healthz"

// readHeaderTimeout bounds how long the server waits to read request
// headers, mitigating slow-loris-style connections.
const readHeaderTimeout = 10 * time.Second

// Config configures a Server.
type Config struct {
	Addr string
}

// Server wires the orchestrator's HTTP transport together: one
// request-scoped tool executor per call, shared orchestrators and
// stores across calls.
type Server struct {
	Orchestrator          *orchestrator.Orchestrator
	StreamingOrchestrator *orchestrator.StreamingOrchestrator
	Store                 itemstore.Store
	ToolRegistry          *tools.Registry
	FileSearchHandler     toolexec.NativeHandler
	HybridSearch          *hybrid.Search
	Authenticator         *auth.StaticAuthenticator

	mux        *chi.Mux
	httpServer *http.Server
}

// NewServer builds a Server's chi router and *http.Server over an
// already-populated Server (every dependency field set by the
// caller). Grounded on fredcamaral-mcp-alfarrabio's router.go for
// the chi wiring, and internal/admin/server.go for the Server/Config
// shape adapted to an HTTP (not gRPC) upstream.
func NewServer(srv *Server, cfg Config) *Server {
	srv.mux = chi.NewRouter()
	srv.setupMiddleware()
	srv.setupRoutes()
	srv.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return srv
}

// Handler returns the underlying http.Handler, for tests that want to
// drive the router directly without binding a socket.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) setupMiddleware() {
	s.mux.Use(chimiddleware.Recoverer)
	s.mux.Use(chimiddleware.RealIP)
	s.mux.Use(chimiddleware.Heartbeat(healthPath))
	s.mux.Use(s.Authenticator.Middleware(healthPath))
}

func (s *Server) setupRoutes() {
	s.mux.Route("/v1", func(r chi.Router) {
		r.Post("/responses", s.handleCreateResponse)
		r.Get("/responses/{id}", s.handleGetResponse)
		r.Post("/vector_stores/{id}/search", s.handleVectorStoreSearch)
	})
}

// buildExecutor builds the per-request tool executor, registering the
// one native tool this transport currently wires in: file_search
// (§4.7/§4.9). Remote tools resolve through aliases alone and are
// handed back to the caller by toolexec itself.
func (s *Server) buildExecutor(aliases *tools.RequestAliasMap) *toolexec.Executor {
	return toolexec.New(aliases, map[string]toolexec.NativeHandler{
		"file_search": s.FileSearchHandler,
	})
}

// ListenAndServe starts the HTTP server, blocking until it exits.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
