package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"icanban/internal/config"
	"icanban/internal/ics"
	appLog "icanban/internal/log"
	"icanban/internal/store"
	"icanban/internal/tracker"
)

// maxBody caps request bodies, including imported calendars.
const maxBody = 4 << 20

// Server exposes the task tree over a JSON API.
type Server struct {
	mux     *http.ServeMux
	manager *tracker.Manager
	poller  *tracker.Poller
	store   store.Store

	// cfgMu guards cfg and the config file at cfgPath.
	cfgMu   sync.Mutex
	cfg     *config.Config
	cfgPath string
}

// Options wires a Server. Poller and ConfigPath are optional: without a
// poller the frequency setting is only recorded, and without a path
// settings are not persisted.
type Options struct {
	Config     *config.Config
	ConfigPath string
	Manager    *tracker.Manager
	Poller     *tracker.Poller
	Store      store.Store
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		mux:     http.NewServeMux(),
		manager: opts.Manager,
		poller:  opts.Poller,
		store:   opts.Store,
		cfg:     cfg,
		cfgPath: opts.ConfigPath,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="icanban", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on the configured listen address until ctx is cancelled, then
// shuts down gracefully. Open event streams end with ctx.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("stopping HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks/{uid}", s.handleGetTask)
	s.mux.HandleFunc("PATCH /api/tasks/{uid}", s.handleUpdateTask)
	s.mux.HandleFunc("DELETE /api/tasks/{uid}", s.handleDeleteTask)
	s.mux.HandleFunc("POST /api/tasks/{uid}/start", s.handleStart)
	s.mux.HandleFunc("POST /api/tasks/{uid}/stop", s.handleStop)
	s.mux.HandleFunc("GET /api/tasks/{uid}/elapsed", s.handleElapsed)
	s.mux.HandleFunc("POST /api/tasks/{uid}/move", s.handleMove)
	s.mux.HandleFunc("GET /api/running", s.handleRunning)
	s.mux.HandleFunc("GET /api/orphans", s.handleOrphans)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	s.mux.HandleFunc("GET /api/containers", s.handleListContainers)
	s.mux.HandleFunc("POST /api/containers", s.handleCreateContainer)

	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handlePutSettings)

	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("POST /api/import", s.handleImport)
	s.mux.HandleFunc("GET /api/stream", s.handleStream)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusFor maps tracker, schema and store errors to HTTP statuses.
// Anything unrecognised is a failing backend.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tracker.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ics.ErrSchema),
		errors.Is(err, ics.ErrUnknownProperty),
		errors.Is(err, ics.ErrNotMultiValued),
		errors.Is(err, tracker.ErrTimeSlice),
		errors.Is(err, tracker.ErrNotTopLevel):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeTaskError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("api request failed", err, "status", status)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
