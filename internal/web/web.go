package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"sectograph/internal/capture"
	"sectograph/internal/config"
	"sectograph/internal/dial"
	appLog "sectograph/internal/log"
	"sectograph/internal/model"
	"sectograph/internal/session"
)

// Dial is the rendering context the server draws from.
type Dial interface {
	Snapshot(ctx context.Context) session.Snapshot
	Face() dial.Face
	Arcs(ctx context.Context) []dial.ArcDescriptor
	Window() model.DayWindow
	Reload()
	EnsureData(ctx context.Context) []model.CalendarEvent
}

// CaptureFunc renders the dial page to PNG.
type CaptureFunc func(ctx context.Context) ([]byte, error)

// Options holds the optional parts of the server.
type Options struct {
	// PreviewPath is where the last capture is stored.
	PreviewPath string
	// Capture, if set, is used by /preview.png when there is no stored
	// capture yet or ?refresh=1 is given.
	Capture CaptureFunc
}

// Server provides the dial page, the JSON API and the PNG preview.
type Server struct {
	cfg  *config.Config
	dial Dial
	mux  *http.ServeMux
	page *template.Template
	opts Options

	// previewMu serializes captures; Chromium is heavy.
	previewMu sync.Mutex
}

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

var templateFuncs = template.FuncMap{
	"num": func(v any) string {
		switch n := v.(type) {
		case dial.DialAngle:
			return strconv.FormatFloat(float64(n), 'f', 4, 64)
		case float64:
			return strconv.FormatFloat(n, 'f', 4, 64)
		default:
			return "0"
		}
	},
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, d Dial, opts Options) (*Server, error) {
	page, err := template.New("dial.html.tmpl").Funcs(templateFuncs).ParseFS(embeddedTemplates, "templates/dial.html.tmpl")
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:  cfg,
		dial: d,
		mux:  http.NewServeMux(),
		page: page,
		opts: opts,
	}
	s.registerRoutes()
	return s, nil
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
	// Blank credentials disable auth.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="Sectograph", charset="UTF-8"`)
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

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
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
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/face", s.handleFace)
	s.mux.HandleFunc("GET /api/arcs", s.handleArcs)
	s.mux.HandleFunc("GET /api/dial", s.handleDial)
	s.mux.HandleFunc("POST /api/reload", s.handleReload)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.HandleFunc("GET /{$}", s.handlePage)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleFace(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dial.Face())
}

func (s *Server) handleArcs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dial.Arcs(r.Context()))
}

func (s *Server) handleDial(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dial.Snapshot(r.Context()))
}

type reloadResponse struct {
	Window model.DayWindow `json:"window"`
	Events int             `json:"events"`
}

// handleReload recomputes the window and refetches every entity.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.dial.Reload()
	events := s.dial.EnsureData(r.Context())
	appLog.Info("api reload", "events", len(events))
	writeJSON(w, http.StatusOK, reloadResponse{Window: s.dial.Window(), Events: len(events)})
}

type pageData struct {
	session.Snapshot
	WindowDate string
	Refresh    int
	Badges     []dial.ArcDescriptor
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	snap := s.dial.Snapshot(r.Context())

	arcs := make([]dial.ArcDescriptor, 0, len(snap.Arcs))
	badges := make([]dial.ArcDescriptor, 0)
	for _, d := range snap.Arcs {
		if d.IsArc() {
			arcs = append(arcs, d)
		} else {
			badges = append(badges, d)
		}
	}
	snap.Arcs = arcs

	data := pageData{
		Snapshot:   snap,
		WindowDate: model.DateString(snap.Window.Today),
		Badges:     badges,
	}
	if s.cfg != nil {
		data.Refresh = s.cfg.TickSeconds
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		appLog.Error("failed to render dial page", err)
	}
}

// handlePreview serves the stored capture, taking a new one when there is
// none or ?refresh=1 is given and a capturer is configured.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	path := s.opts.PreviewPath
	wantFresh := r.URL.Query().Get("refresh") == "1"

	if s.opts.Capture != nil && (wantFresh || path == "" || !fileExists(path)) {
		png, err := s.capturePreview(r.Context())
		if err != nil {
			appLog.Error("preview capture failed", err)
			writeError(w, http.StatusBadGateway, "preview capture failed")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
		return
	}

	if path == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) capturePreview(ctx context.Context) ([]byte, error) {
	s.previewMu.Lock()
	defer s.previewMu.Unlock()

	png, err := s.opts.Capture(ctx)
	if err != nil {
		return nil, err
	}
	if s.opts.PreviewPath != "" {
		if err := capture.WritePNG(s.opts.PreviewPath, png); err != nil {
			appLog.Error("failed to store preview", err, "path", s.opts.PreviewPath)
		}
	}
	return png, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
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
