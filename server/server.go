// Package server serves mesh sources over HTTP, one GraphQL endpoint per
// source under /{source}/graphql.
package server

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"openapi-mesh-handler/config"
	meshcontext "openapi-mesh-handler/mesh_context"
	meshhandler "openapi-mesh-handler/mesh_handler"
	"openapi-mesh-handler/source"
)

const (
	RequestIDHeader = "X-Request-Id"
	// HeadersVariable holds all request headers, {context.headers.X-Foo}.
	HeadersVariable = "headers"

	shutdownTimeout = 5 * time.Second
)

var (
	ErrNoHandlerFound = errors.New("no handler found for source")

	graphqlRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openapi_mesh_graphql_requests_total",
		Help: "GraphQL requests served, by source.",
	}, []string{"source"})

	reloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openapi_mesh_source_reloads_total",
		Help: "Mesh source reloads, by source and result.",
	}, []string{"source", "result"})
)

// MeshSourceProvider builds the schema of one source. *meshhandler.Handler
// implements it.
type MeshSourceProvider interface {
	Name() string
	Source() string
	Invalidate(ctx context.Context)
	GetMeshSource(ctx context.Context) (*meshhandler.MeshSource, error)
}

type graphqlHandler struct {
	schema           *graphql.Schema
	contextVariables []string
	handler          http.Handler
}

type Server struct {
	cfg config.Server
	log *zerolog.Logger

	mu        sync.RWMutex
	providers map[string]MeshSourceProvider
	registry  map[string]*graphqlHandler
}

func New(cfg config.Server, log *zerolog.Logger) *Server {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Server{
		cfg:       cfg,
		log:       log,
		providers: make(map[string]MeshSourceProvider),
		registry:  make(map[string]*graphqlHandler),
	}
}

// Add builds the schema of p and serves it. A provider with the same name
// is replaced.
func (s *Server) Add(ctx context.Context, p MeshSourceProvider) error {
	src, err := p.GetMeshSource(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.Name()] = p
	s.registry[p.Name()] = s.createHandler(src)
	s.log.Info().Str("source", p.Name()).Msg("Serving source")
	return nil
}

// Reload rebuilds a source from a fresh document. The previous schema keeps
// being served when the rebuild fails.
func (s *Server) Reload(ctx context.Context, name string) error {
	s.mu.RLock()
	p, ok := s.providers[name]
	s.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrNoHandlerFound, "%q", name)
	}

	p.Invalidate(ctx)
	src, err := p.GetMeshSource(ctx)
	if err != nil {
		reloads.WithLabelValues(name, "error").Inc()
		return errors.Wrapf(err, "failed to reload source %q", name)
	}

	s.mu.Lock()
	s.registry[name] = s.createHandler(src)
	s.mu.Unlock()
	reloads.WithLabelValues(name, "success").Inc()
	s.log.Info().Str("source", name).Msg("Reloaded source")
	return nil
}

// LocalSources lists the documents of all sources that are local files.
func (s *Server) LocalSources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var paths []string
	for _, p := range s.providers {
		if !source.IsURL(p.Source()) {
			paths = append(paths, p.Source())
		}
	}
	return paths
}

// OnFileChanged reloads every source reading the changed document.
func (s *Server) OnFileChanged(path string) {
	s.mu.RLock()
	var names []string
	for name, p := range s.providers {
		if source.IsURL(p.Source()) {
			continue
		}
		if abs, err := filepath.Abs(p.Source()); err == nil && abs == path {
			names = append(names, name)
		}
	}
	s.mu.RUnlock()

	for _, name := range names {
		if err := s.Reload(context.Background(), name); err != nil {
			s.log.Error().Err(err).Str("source", name).Msg("Reload failed, keeping the previous schema")
		}
	}
}

func (s *Server) createHandler(src *meshhandler.MeshSource) *graphqlHandler {
	h := handler.New(&handler.Config{
		Schema:     src.Schema,
		Pretty:     s.cfg.HandlerCfg.Pretty,
		Playground: s.cfg.HandlerCfg.Playground,
		GraphiQL:   s.cfg.HandlerCfg.GraphiQL,
	})
	return &graphqlHandler{
		schema:           src.Schema,
		contextVariables: src.ContextVariables,
		handler:          h,
	}
}

// Routes returns the GraphQL endpoints plus health and metrics.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", s)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		ready := len(s.registry) > 0
		s.mu.RUnlock()
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.handleCORS(w, r) {
		return
	}

	name, h, ok := s.getSourceAndHandler(w, r)
	if !ok {
		return
	}
	graphqlRequests.WithLabelValues(name).Inc()

	r = s.setContexts(w, r, h)
	h.handler.ServeHTTP(w, r)
}

// ListenAndServe serves Routes on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server error")
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.Cors.Enabled {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.Cors.AllowedOrigins)
		w.Header().Set("Access-Control-Allow-Headers", s.cfg.Cors.AllowedHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return true
		}
	}
	return false
}

func (s *Server) getSourceAndHandler(w http.ResponseWriter, r *http.Request) (string, *graphqlHandler, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[1] != "graphql" {
		http.NotFound(w, r)
		return "", nil, false
	}

	name := parts[0]
	s.mu.RLock()
	h, ok := s.registry[name]
	s.mu.RUnlock()

	if !ok {
		s.log.Debug().Err(ErrNoHandlerFound).Str("source", name).Msg("Unknown source")
		http.NotFound(w, r)
		return "", nil, false
	}
	return name, h, true
}

// setContexts puts the request id, a request logger and the context
// variables of the source into the request context. A context variable is
// read from the request header of the same name.
func (s *Server) setContexts(w http.ResponseWriter, r *http.Request, h *graphqlHandler) *http.Request {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set(RequestIDHeader, requestID)

	reqLog := s.log.With().Str("requestId", requestID).Logger()
	ctx := reqLog.WithContext(r.Context())

	headers := make(map[string]interface{}, len(r.Header))
	for key := range r.Header {
		headers[key] = r.Header.Get(key)
	}
	vars := map[string]interface{}{
		HeadersVariable: headers,
	}
	for _, name := range h.contextVariables {
		if name == meshhandler.FetchContextVariable {
			continue
		}
		if value := r.Header.Get(name); value != "" {
			vars[name] = value
		}
	}
	ctx = meshcontext.WithVariables(ctx, vars)

	if s.cfg.ForwardOAuthToken {
		if token := getToken(r); token != "" {
			ctx = meshcontext.WithOAuthToken(ctx, token)
		}
	}

	return r.WithContext(ctx)
}

func getToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")

	return token
}
