package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"git.home.fjellstad.io/blog/blogpipe/internal/config"
	"git.home.fjellstad.io/blog/blogpipe/internal/events"
	"git.home.fjellstad.io/blog/blogpipe/internal/logfields"
	"git.home.fjellstad.io/blog/blogpipe/internal/pipeline"
	"git.home.fjellstad.io/blog/blogpipe/internal/runstore"
)

// Server exposes the daemon's HTTP surface: the push webhook, health, run
// history, and optionally Prometheus metrics.
type Server struct {
	cfg            config.DaemonConfig
	enqueue        func(Trigger) error
	bus            *events.Bus
	store          runstore.Store
	metricsHandler http.Handler
	httpServer     *http.Server
	startedAt      time.Time
}

// NewServer wires the HTTP endpoints. enqueue is called for every accepted
// webhook delivery; store and metricsHandler are optional.
func NewServer(cfg config.DaemonConfig, enqueue func(Trigger) error, bus *events.Bus, store runstore.Store, metricsHandler http.Handler) *Server {
	s := &Server{
		cfg:            cfg,
		enqueue:        enqueue,
		bus:            bus,
		store:          store,
		metricsHandler: metricsHandler,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+cfg.WebhookPath, s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if store != nil {
		mux.HandleFunc("GET /runs", s.handleListRuns)
		mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	}
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listener and serves until Shutdown. Binding errors are
// returned synchronously so startup fails fast on a busy port.
func (s *Server) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Listen, err)
	}
	s.startedAt = time.Now()

	go func() {
		slog.Info("HTTP server listening",
			slog.String("addr", ln.Addr().String()),
			logfields.Path(s.cfg.WebhookPath))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", logfields.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests and drains in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleWebhook accepts a push notification. The payload is discarded; a
// delivery only signals "the watched branch may have moved" and the run
// checks out whatever head it finds.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid webhook secret"})
		return
	}

	// Drain and discard; keeps the connection reusable.
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 1<<20))

	forge := detectForge(r)
	slog.Info("Push webhook received",
		slog.String("forge", forge),
		logfields.RemoteAddr(r.RemoteAddr),
		logfields.UserAgent(r.UserAgent()))

	if s.bus != nil {
		publishCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		_ = s.bus.Publish(publishCtx, events.PushReceived{
			Forge:      forge,
			ReceivedAt: time.Now(),
		})
		cancel()
	}

	err := s.enqueue(Trigger{Kind: pipeline.TriggerWebhook, Forge: forge, ReceivedAt: time.Now()})
	switch {
	case errors.Is(err, ErrQueueFull):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "run queue is full, retry later"})
	case errors.Is(err, ErrQueueClosed):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "daemon is shutting down"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":    "queued",
			"forge":     forge,
			"timestamp": time.Now().UTC(),
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRecent(r.Context(), 20)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, steps, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, runstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "run not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "steps": steps})
}

// authorized enforces the optional shared webhook secret. Without a
// configured secret every delivery is accepted.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.WebhookSecret == "" {
		return true
	}
	token := r.Header.Get("X-Webhook-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.WebhookSecret)) == 1
}

// detectForge classifies the sender from its event headers. Purely
// informational; unknown senders are accepted too.
func detectForge(r *http.Request) string {
	switch {
	case r.Header.Get("X-GitHub-Event") != "":
		return "github"
	case r.Header.Get("X-Gitlab-Event") != "":
		return "gitlab"
	case r.Header.Get("X-Forgejo-Event") != "", r.Header.Get("X-Gitea-Event") != "":
		return "forgejo"
	default:
		return "unknown"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to write response", logfields.Error(err))
	}
}
