// Package api serves read-only inspection of converged finger tables over
// HTTP, plus a WebSocket stream of convergence progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/zde37/vdht/internal/chord"
	"github.com/zde37/vdht/internal/metrics"
	"github.com/zde37/vdht/internal/store"
	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/hash"
	"github.com/zde37/vdht/pkg/ring"
)

// Server is the HTTP inspection server.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	hub        *WebSocketHub
	port       int
	logger     *pkg.Logger

	mu     sync.RWMutex
	router *chord.Router
	values *store.Directory
}

// Config holds the HTTP server configuration.
type Config struct {
	HTTPPort int
}

// NewServer creates a server. Node and route endpoints answer 503 until a
// router is set.
func NewServer(cfg *Config, hub *WebSocketHub, logger *pkg.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if hub == nil {
		return nil, fmt.Errorf("websocket hub cannot be nil")
	}

	return &Server{
		hub:    hub,
		port:   cfg.HTTPPort,
		logger: logger.WithComponent("http_api"),
	}, nil
}

// SetRouter publishes converged tables to the API and gives every node an
// empty value store.
func (s *Server) SetRouter(r *chord.Router) {
	g := r.Graph()
	keys := make([]ring.Key, g.NodeCount())
	for i := range keys {
		keys[i] = g.IndexToKey(i)
	}
	values := store.NewDirectory(keys, nil)

	s.mu.Lock()
	old := s.values
	s.router, s.values = r, values
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

func (s *Server) currentRouter() *chord.Router {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.router
}

func (s *Server) current() (*chord.Router, *store.Directory) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.router, s.values
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /api/nodes", s.nodesHandler)
	mux.HandleFunc("GET /api/nodes/{key}", s.nodeHandler)
	mux.HandleFunc("GET /api/route", s.routeHandler)
	mux.HandleFunc("GET /api/lookup", s.lookupHandler)
	mux.HandleFunc("GET /api/values/{name}", s.getValueHandler)
	mux.HandleFunc("PUT /api/values/{name}", s.putValueHandler)
	mux.HandleFunc("GET /api/ws", s.hub.HandleWebSocket)
	mux.Handle("GET /metrics", metrics.Handler())
	return corsMiddleware(mux)
}

// Start binds the configured port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP API server started")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping HTTP API server")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}

	s.mu.Lock()
	if s.values != nil {
		s.values.Close()
		s.values = nil
	}
	s.mu.Unlock()

	s.logger.Info().Msg("HTTP API server stopped")
	return nil
}

type fingerView struct {
	Target string `json:"target"`
	Final  string `json:"final"`
	Length int    `json:"length"`
}

type nodeView struct {
	Key       string       `json:"key"`
	Neighbors []string     `json:"neighbors"`
	Left      []fingerView `json:"left,omitempty"`
	Right     []fingerView `json:"right,omitempty"`
}

type routeView struct {
	Src       string   `json:"src"`
	Dst       string   `json:"dst"`
	Length    int      `json:"length"`
	Waypoints []string `json:"waypoints"`
	Hops      []string `json:"hops"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"ready":   s.currentRouter() != nil,
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) nodesHandler(w http.ResponseWriter, r *http.Request) {
	router := s.currentRouter()
	if router == nil {
		writeError(w, http.StatusServiceUnavailable, errNotReady)
		return
	}

	g := router.Graph()
	nodes := make([]nodeView, g.NodeCount())
	for i := range nodes {
		nodes[i] = nodeView{Key: g.IndexToKey(i).String(), Neighbors: neighborKeys(g, i)}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) nodeHandler(w http.ResponseWriter, r *http.Request) {
	router := s.currentRouter()
	if router == nil {
		writeError(w, http.StatusServiceUnavailable, errNotReady)
		return
	}

	key, err := parseKey(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	nf, err := router.Table(key)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	g := router.Graph()
	i, _ := g.KeyToIndex(key)
	writeJSON(w, http.StatusOK, nodeView{
		Key:       key.String(),
		Neighbors: neighborKeys(g, i),
		Left:      fingerViews(nf.Fingers(chord.SideLeft)),
		Right:     fingerViews(nf.Fingers(chord.SideRight)),
	})
}

func (s *Server) routeHandler(w http.ResponseWriter, r *http.Request) {
	router := s.currentRouter()
	if router == nil {
		writeError(w, http.StatusServiceUnavailable, errNotReady)
		return
	}

	src, err := parseKey(r.URL.Query().Get("src"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("src: %w", err))
		return
	}
	dst, err := parseKey(r.URL.Query().Get("dst"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("dst: %w", err))
		return
	}

	route, err := router.Route(src, dst)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newRouteView(src, dst, route))
}

func newRouteView(src, dst ring.Key, route chord.Route) routeView {
	return routeView{
		Src:       src.String(),
		Dst:       dst.String(),
		Length:    route.Path.Length,
		Waypoints: keyStrings(route.Path.Waypoints),
		Hops:      keyStrings(route.Hops),
	}
}

type lookupView struct {
	Key   string    `json:"key"`
	Hash  string    `json:"hash"`
	Owner string    `json:"owner"`
	Route routeView `json:"route"`
}

// lookupHandler hashes an application key onto the ring and routes from
// src to the node that owns it.
func (s *Server) lookupHandler(w http.ResponseWriter, r *http.Request) {
	router := s.currentRouter()
	if router == nil {
		writeError(w, http.StatusServiceUnavailable, errNotReady)
		return
	}

	src, err := parseKey(r.URL.Query().Get("src"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("src: %w", err))
		return
	}
	name := r.URL.Query().Get("key")
	if name == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing key"))
		return
	}

	id := hash.String(router.Graph().Space(), name)
	owner, route, err := router.Lookup(src, id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, lookupView{
		Key:   name,
		Hash:  id.String(),
		Owner: owner.String(),
		Route: newRouteView(src, owner, route),
	})
}

// maxValueSize bounds the body of a value upload.
const maxValueSize = 1 << 20

type valueView struct {
	Key   string    `json:"key"`
	Hash  string    `json:"hash"`
	Owner string    `json:"owner"`
	Value []byte    `json:"value,omitempty"`
	Route routeView `json:"route"`
}

// locate routes from the src query parameter to the owner of the value
// named in the path. It writes the error response itself and returns a nil
// store when the request cannot be served.
func (s *Server) locate(w http.ResponseWriter, r *http.Request) (*valueView, *store.Store) {
	router, values := s.current()
	if router == nil {
		writeError(w, http.StatusServiceUnavailable, errNotReady)
		return nil, nil
	}

	src, err := parseKey(r.URL.Query().Get("src"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("src: %w", err))
		return nil, nil
	}
	name := r.PathValue("name")
	id := hash.String(router.Graph().Space(), name)
	owner, route, err := router.Lookup(src, id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, nil
	}
	st, err := values.Node(owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, nil
	}

	return &valueView{
		Key:   name,
		Hash:  id.String(),
		Owner: owner.String(),
		Route: newRouteView(src, owner, route),
	}, st
}

func (s *Server) getValueHandler(w http.ResponseWriter, r *http.Request) {
	view, st := s.locate(w, r)
	if st == nil {
		return
	}

	value, err := st.Get(r.Context(), view.Key)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	view.Value = value
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) putValueHandler(w http.ResponseWriter, r *http.Request) {
	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid ttl %q", raw))
			return
		}
		ttl = d
	}

	view, st := s.locate(w, r)
	if st == nil {
		return
	}

	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if err := st.Set(r.Context(), view.Key, value, ttl); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

var errNotReady = errors.New("tables not converged yet")

func statusFor(err error) int {
	switch {
	case errors.Is(err, pkg.ErrUnknownKey), errors.Is(err, pkg.ErrNoPath), errors.Is(err, pkg.ErrValueNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkg.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseKey reads a key in the hex form Key.String prints.
func parseKey(s string) (ring.Key, error) {
	if s == "" {
		return 0, errors.New("missing key")
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid key %q", s)
	}
	return ring.Key(v), nil
}

func neighborKeys(g chord.Graph, i int) []string {
	nbrs := g.Neighbors(i)
	out := make([]string, len(nbrs))
	for j, v := range nbrs {
		out[j] = g.IndexToKey(v).String()
	}
	return out
}

func fingerViews(fs []chord.Finger) []fingerView {
	out := make([]fingerView, len(fs))
	for i, f := range fs {
		out[i] = fingerView{
			Target: f.TargetID.String(),
			Final:  f.Chain.FinalID.String(),
			Length: f.Chain.Length,
		}
	}
	return out
}

func keyStrings(keys []ring.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}
