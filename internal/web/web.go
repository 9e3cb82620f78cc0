package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"ttagenda/internal/config"
	"ttagenda/internal/live"
	appLog "ttagenda/internal/log"
	"ttagenda/internal/model"
	"ttagenda/internal/notify"
	"ttagenda/internal/schedule"
	"ttagenda/internal/store"
)

// Server exposes the schedule, live status, admin and live channel APIs and
// the embedded live board.
type Server struct {
	cfg      *config.Config
	store    store.Store
	composer *schedule.Composer
	resolver *live.Resolver
	hub      *notify.Hub
	capture  CaptureStatus
	loc      *time.Location
	now      func() time.Time
	validate *validator.Validate
	mux      *http.ServeMux
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Config   *config.Config
	Store    store.Store
	Composer *schedule.Composer
	Resolver *live.Resolver
	Hub      *notify.Hub
	// Capture is nil when board capture is disabled.
	Capture  CaptureStatus
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// CaptureStatus reports the outcome of the most recent board capture.
type CaptureStatus interface {
	Last() (time.Time, error)
}

// embeddedStatic contains the live board page.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(d Deps) *Server {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	s := &Server{
		cfg:      d.Config,
		store:    d.Store,
		composer: d.Composer,
		resolver: d.Resolver,
		hub:      d.Hub,
		capture:  d.Capture,
		loc:      d.Location,
		now:      d.Now,
		validate: validator.New(),
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled for mutating requests")
		h = s.basicAuthMiddleware(h)
	}
	return requestIDMiddleware(h)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /health/live", s.handleHealthLive)
	s.mux.HandleFunc("GET /health/ready", s.handleHealthReady)

	s.mux.HandleFunc("GET /api/v1/schedule", s.handleSchedule)
	s.mux.HandleFunc("GET /api/v1/schedule.ics", s.handleScheduleICS)
	s.mux.HandleFunc("GET /api/v1/live", s.handleLive)
	s.mux.HandleFunc("GET /api/v1/upcoming", s.handleUpcoming)

	s.mux.HandleFunc("GET /api/v1/position-groups", s.handleListPositionGroups)
	s.mux.HandleFunc("POST /api/v1/position-groups", s.handleCreatePositionGroup)
	s.mux.HandleFunc("GET /api/v1/templates", s.handleListTemplates)
	s.mux.HandleFunc("POST /api/v1/templates", s.handleCreateTemplate)
	s.mux.HandleFunc("PATCH /api/v1/templates/{id}", s.handlePatchTemplate)
	s.mux.HandleFunc("POST /api/v1/templates/{id}/overrides", s.handleUpsertOverride)
	s.mux.HandleFunc("DELETE /api/v1/templates/{id}/overrides/{date}", s.handleDeleteOverride)
	s.mux.HandleFunc("POST /api/v1/instances/adhoc", s.handleCreateAdHoc)

	s.mux.HandleFunc("GET /ws/live", s.handleWebSocket)
	s.mux.HandleFunc("GET /board.png", s.handleBoardPNG)

	s.mux.Handle("GET /", s.staticFileServer())
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware protects every non-GET request with HTTP Basic Auth.
// Reads, health checks and the live channel stay public.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ttagenda", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware tags each request with an X-Request-ID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		appLog.Debug("http request", "id", id, "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start).String())
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleHealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "ttagenda"})
}

func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		appLog.Error("readiness check failed", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	out := map[string]any{"status": "ready", "subscribers": s.hub.Len()}
	if snap, ok := s.hub.Last(); ok {
		out["snapshot"] = map[string]any{"fingerprint": snap.Fingerprint, "count": snap.Count}
	}
	if s.capture != nil {
		out["capture"] = captureReport(s.capture)
	}
	writeJSON(w, http.StatusOK, out)
}

func captureReport(c CaptureStatus) map[string]any {
	at, err := c.Last()
	rep := map[string]any{"ok": err == nil}
	if !at.IsZero() {
		rep["last_run"] = at.Format(time.RFC3339)
	}
	if err != nil {
		rep["error"] = err.Error()
	}
	return rep
}

// handleBoardPNG serves the last captured board screenshot.
func (s *Server) handleBoardPNG(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil || !s.cfg.Capture.Enabled {
		http.NotFound(w, r)
		return
	}
	// http.ServeFile maps missing files to 404.
	http.ServeFile(w, r, s.cfg.Capture.Output)
}

// staticFileServer serves the embedded live board.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		// Unknown API paths must not fall through to HTML.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
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

// writeStoreError maps collaborator errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrInvalidTemplate),
		errors.Is(err, model.ErrInvalidActivity),
		errors.Is(err, model.ErrInvalidOverride),
		errors.Is(err, model.ErrInvalidInstance),
		errors.Is(err, schedule.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error(op+" failed", err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}
