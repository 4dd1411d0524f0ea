// Package server exposes the admin HTTP API: policy CRUD and persistence,
// authorization and governance decision endpoints, sync triggering, and
// Prometheus exposition.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/makr-code/themis-policy/pkg/governance"
	"github.com/makr-code/themis-policy/pkg/policy"
)

// SyncTrigger abstracts the background syncer so the handler can trigger an
// immediate fetch without owning its lifecycle.
type SyncTrigger interface {
	Sync(ctx context.Context) (int, error)
}

// Options holds the collaborators and listener settings for a Server.
type Options struct {
	Store      *policy.Store
	Governance *governance.Engine

	// Syncer may be nil when no policy authority is configured; the sync
	// endpoint then answers 503.
	Syncer SyncTrigger

	Metrics *Metrics
	Logger  *slog.Logger

	// TLS enables HTTPS on the listener when non-nil.
	TLS *tls.Config

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the admin API container.
type Server struct {
	store   *policy.Store
	gov     *governance.Engine
	syncer  SyncTrigger
	metrics *Metrics
	logger  *slog.Logger

	httpServer *http.Server
	tlsConfig  *tls.Config

	mu      sync.Mutex
	running bool
}

// New creates a Server wired to the given collaborators.
func New(opts Options) *Server {
	if opts.Store == nil {
		panic("server: policy store is required")
	}
	if opts.Governance == nil {
		panic("server: governance engine is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(opts.Store)
	}

	s := &Server{
		store:     opts.Store,
		gov:       opts.Governance,
		syncer:    opts.Syncer,
		metrics:   metrics,
		logger:    logger,
		tlsConfig: opts.TLS,
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         opts.TLS,
	}

	return s
}

// Handler returns the full middleware chain serving the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return otelhttp.NewHandler(s.metrics.Middleware(mux), "themis.admin")
}

// registerRoutes sets up the HTTP handlers. Exact patterns win over the
// /v1/policies/ subtree, so load/save/export are registered alongside the
// id-addressed handler.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", s.metrics.Handler())

	mux.HandleFunc("/v1/policies", s.handlePolicies)
	mux.HandleFunc("/v1/policies/", s.handlePolicyByID)
	mux.HandleFunc("/v1/policies/load", s.handleLoad)
	mux.HandleFunc("/v1/policies/save", s.handleSave)
	mux.HandleFunc("/v1/policies/export", s.handleExport)

	mux.HandleFunc("/v1/authorize", s.handleAuthorize)
	mux.HandleFunc("/v1/governance/evaluate", s.handleGovernance)
	mux.HandleFunc("/v1/sync", s.handleSync)
}

// Start begins serving on addr and blocks until the listener closes. A nil
// error is returned after a graceful Stop.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.httpServer.Addr = addr

	var err error
	if s.tlsConfig != nil {
		s.logger.Info("Admin API listening", "addr", addr, "tls", true)
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("Admin API listening", "addr", addr, "tls", false)
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
