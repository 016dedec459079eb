// Package server exposes the operational HTTP surface: liveness and
// readiness probes, Prometheus metrics, manual sync and refilter triggers,
// and a read-only view of the cached catalog and checkpoint state. Every
// response is JSON except the metrics exposition.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/snapetech/showsyncr/internal/cache"
	"github.com/snapetech/showsyncr/internal/processor"
	"github.com/snapetech/showsyncr/internal/state"
)

// maxConns bounds concurrent HTTP connections. The surface serves probes
// and the occasional operator call, not traffic.
const maxConns = 64

// Trigger is the slice of the scheduler the HTTP surface drives.
type Trigger interface {
	TriggerNow()
	NextRun() time.Time
	IsRunning() bool
}

// HealthChecker reports whether the downstream API answers.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Config wires a Server.
type Config struct {
	Port int
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
}

// Deps are the collaborators the handlers read from.
type Deps struct {
	Store  *cache.Store
	State  *state.Manager
	Sched  Trigger
	Sonarr HealthChecker
	Proc   *processor.Processor
}

// Server serves the operational endpoints.
type Server struct {
	cfg    Config
	store  *cache.Store
	state  *state.Manager
	sched  Trigger
	sonarr HealthChecker
	proc   *processor.Processor
	log    *slog.Logger
}

func New(cfg Config, d Deps, log *slog.Logger) *Server {
	cfg.setDefaults()
	return &Server{
		cfg:    cfg,
		store:  d.Store,
		state:  d.State,
		sched:  d.Sched,
		sonarr: d.Sonarr,
		proc:   d.Proc,
		log:    log.With("component", "server"),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully with a
// 10 second deadline for in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{Handler: s.routes()}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		serverErr <- srv.Serve(netutil.LimitListener(ln, maxConns))
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		s.log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http server shutdown", "error", err)
		}
		<-serverErr
		return nil
	}
}

// routes builds the handler tree. Method mismatches on a known path answer
// 405 via the mux's method patterns.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", s.serveHealth())
	mux.Handle("GET /ready", s.serveReady())
	mux.Handle("GET /metrics", s.serveMetrics())
	mux.Handle("POST /trigger", s.serveTrigger())
	mux.Handle("GET /state", s.serveState())
	mux.Handle("GET /shows", s.serveShows())
	mux.Handle("POST /refilter", s.serveRefilter())
	return s.logRequests(mux)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// logRequests records one debug line per request. Debug, not info: metrics
// scrapes and probes arrive every few seconds.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		status := lw.status
		if status == 0 {
			status = http.StatusOK
		}
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", lw.bytes,
			"duration", time.Since(start).Round(time.Millisecond),
			"remote", r.RemoteAddr,
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"status": "error",
		"error":  err.Error(),
	})
}

// isoOrNil renders a timestamp for JSON, zero time as null.
func isoOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
