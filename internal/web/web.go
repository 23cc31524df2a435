package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"groupmecal/internal/cache"
	"groupmecal/internal/config"
	"groupmecal/internal/ics"
	appLog "groupmecal/internal/log"
)

const (
	feedPath = "/calendar.ics"

	upstreamFailureText = "There was a critical error loading the GroupMe Calendar. Please investigate."
	feedFailureText     = "unable to load events"

	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Feed is what the routes need from the cache layer.
// *cache.Controller satisfies it.
type Feed interface {
	Feed(ctx context.Context) (string, error)
	BuildError(errText string) string
	DisplayName() string
	Timezone() string
}

// Server serves the landing page and the calendar feed.
type Server struct {
	cfg  *config.Config
	feed Feed
	mux  *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, feed Feed) *Server {
	s := &Server{
		cfg:  cfg,
		feed: feed,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler including middleware.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		h = s.basicAuthMiddleware(h)
	}
	return logRequests(h)
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET "+feedPath, s.handleFeed)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// indexPage is the data handed to templates/index.html.
type indexPage struct {
	Title    string
	GroupID  string
	HTTP     string
	Webcal   template.URL // html/template would otherwise reject the webcal scheme
	Google   string
	Timezone string
}

// handleIndex renders the landing page. It refreshes the feed first so
// the title reflects the current group name and upstream problems show up
// here rather than only in calendar clients.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.RequireUpstream(); err != nil {
		appLog.Error("configuration incomplete", err)
		writeText(w, http.StatusInternalServerError, "ERROR: "+err.Error())
		return
	}

	if _, err := s.feed.Feed(r.Context()); err != nil {
		writeText(w, http.StatusInternalServerError, upstreamFailureText)
		return
	}

	links, err := ics.DeriveLinks(s.feedURL(r))
	if err != nil {
		appLog.Error("failed to derive feed links", err)
		writeText(w, http.StatusInternalServerError, "Internal Server Error: "+err.Error())
		return
	}

	page := indexPage{
		Title:    s.feed.DisplayName(),
		GroupID:  s.cfg.GroupID,
		HTTP:     links.HTTP,
		Webcal:   template.URL(links.Webcal),
		Google:   links.Google,
		Timezone: s.feed.Timezone(),
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, page); err != nil {
		appLog.Error("failed to render index", err)
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleFeed serves the calendar. Failures are reported as a 500 carrying
// an event-less calendar whose name describes the problem.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.RequireUpstream(); err != nil {
		appLog.Error("configuration incomplete", err)
		writeCalendar(w, http.StatusInternalServerError, s.feed.BuildError(err.Error()))
		return
	}

	doc, err := s.feed.Feed(r.Context())
	if err != nil {
		writeCalendar(w, http.StatusInternalServerError, s.feed.BuildError(feedFailureText))
		return
	}
	writeCalendar(w, http.StatusOK, doc)
}

// feedURL returns the public URL of the feed: the configured proxy URL, or
// calendar.ics resolved against the inbound request URL.
func (s *Server) feedURL(r *http.Request) string {
	if s.cfg.ProxyURL != "" {
		return s.cfg.ProxyURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := firstHeaderValue(r.Header.Get("X-Forwarded-Proto")); p != "" {
		scheme = p
	}
	host := r.Host
	if h := firstHeaderValue(r.Header.Get("X-Forwarded-Host")); h != "" {
		host = h
	}

	base := &url.URL{Scheme: scheme, Host: host, Path: r.URL.Path}
	return base.ResolveReference(&url.URL{Path: strings.TrimPrefix(feedPath, "/")}).String()
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func writeCalendar(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	return s.cfg != nil && s.cfg.BasicAuth != nil &&
		s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
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
			w.Header().Set("WWW-Authenticate", `Basic realm="groupmecal", charset="UTF-8"`)
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

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
		)
	})
}

var _ Feed = (*cache.Controller)(nil)
