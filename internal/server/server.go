package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/internal/clock"
	"github.com/quotaflow/quotaflow/internal/limiter"
)

// Options carries the server's optional collaborators.
type Options struct {
	// Hub, when set, receives a DecisionEvent for every guarded check.
	Hub *Hub
	// Logger may be nil.
	Logger *zap.Logger
}

// Server exposes the rate limiters over HTTP: guarded check endpoints, the
// administrative status/clear operations, and a websocket decision feed.
type Server struct {
	httpServer *http.Server
	limiters   map[string]*limiter.Limiter
	clock      clock.Clock
	hub        *Hub
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a server over the given limiters, keyed by category.
func New(addr string, limiters map[string]*limiter.Limiter, clk clock.Clock, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		limiters: limiters,
		clock:    clk,
		hub:      opts.Hub,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/limits", s.handleListLimits)
	s.mux.HandleFunc("/api/limits/", s.handleLimit)
	s.mux.HandleFunc("/api/check/", s.handleCheck)
	if s.hub != nil {
		s.mux.HandleFunc("/ws", s.hub.HandleWebSocket)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "quotaflow",
		"status":  "running",
		"time":    s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListLimits reports the configured categories and their ceilings.
func (s *Server) handleListLimits(w http.ResponseWriter, r *http.Request) {
	type limitInfo struct {
		Window  string `json:"window"`
		Max     int    `json:"max"`
		Message string `json:"message"`
	}

	out := make(map[string]limitInfo, len(s.limiters))
	for name, lim := range s.limiters {
		out[name] = limitInfo{
			Window:  lim.Window().String(),
			Max:     lim.Limit(),
			Message: lim.Message(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLimit serves the admin operations on one category:
//
//	GET    /api/limits/{category}/status   current window state, no increment
//	DELETE /api/limits/{category}          drop the entry (admin override)
//
// The client key defaults to the request's derived IP; admins inspect other
// clients with ?key=.
func (s *Server) handleLimit(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/limits/")
	category, tail, _ := strings.Cut(rest, "/")

	lim, ok := s.limiters[category]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown limiter category "+category)
		return
	}

	switch {
	case r.Method == http.MethodGet && tail == "status":
		res := s.status(r, lim)
		writeJSON(w, http.StatusOK, res)
	case r.Method == http.MethodDelete && tail == "":
		if err := s.clear(r, lim); err != nil {
			s.logger.Error("clearing rate limit", zap.String("category", category), zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "failed to clear rate limit")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCheck counts a request against the category's limiter and answers
// with the decorated decision. Path: /api/check/{category}.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimPrefix(r.URL.Path, "/api/check/")
	lim, ok := s.limiters[category]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown limiter category "+category)
		return
	}

	res := lim.Check(r.Context(), r)
	setRateLimitHeaders(w.Header(), lim.Config(), res)

	if s.hub != nil {
		s.hub.Broadcast(DecisionEvent{
			Time:      s.clock.Now(),
			Category:  category,
			Key:       s.clientKey(r, lim),
			Allowed:   res.Allowed,
			Remaining: res.Remaining,
			Method:    r.Method,
			Path:      r.URL.Path,
		})
	}

	if !res.Allowed {
		writeLimitExceeded(w, lim, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) status(r *http.Request, lim *limiter.Limiter) limiter.Result {
	if key := r.URL.Query().Get("key"); key != "" {
		return lim.StatusKey(r.Context(), key)
	}
	return lim.Status(r.Context(), r)
}

func (s *Server) clear(r *http.Request, lim *limiter.Limiter) error {
	if key := r.URL.Query().Get("key"); key != "" {
		return lim.ClearKey(r.Context(), key)
	}
	return lim.Clear(r.Context(), r)
}

func (s *Server) clientKey(r *http.Request, lim *limiter.Limiter) string {
	if kf := lim.Config().KeyFunc; kf != nil {
		return kf(r)
	}
	return limiter.DefaultKeyFunc(r)
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
	return s.httpServer.Serve(ln)
}

// StartOnListener serves on the provided listener. Useful for tests that
// need an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
