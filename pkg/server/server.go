package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elonfeng/postagent/internal/store"
)

// Schedule exposes the posting gate.
type Schedule interface {
	Next(ctx context.Context) (time.Time, bool, error)
	ShouldPostNow(ctx context.Context, force bool) (bool, error)
}

// Server provides the HTTP status API.
type Server struct {
	store    store.Store
	schedule Schedule
	gatherer prometheus.Gatherer
	port     int
	logger   *slog.Logger
}

// New creates a new HTTP server. gatherer may be nil to disable /metrics.
func New(s store.Store, schedule Schedule, gatherer prometheus.Gatherer, port int, logger *slog.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    s,
		schedule: schedule,
		gatherer: gatherer,
		port:     port,
		logger:   logger.With("component", "server"),
	}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/posts", s.handlePosts)
	mux.HandleFunc("/api/v1/queue", s.handleQueue)
	mux.HandleFunc("/api/v1/schedule", s.handleSchedule)
	mux.HandleFunc("/api/v1/locks", s.handleLocks)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", srv.Addr)
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
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountPosts(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "posts": count})
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	posts, err := s.store.RecentPosts(r.Context(), limit)
	if err != nil {
		s.serverError(w, "list posts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  posts,
		"count": len(posts),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.store.ListQueue(r.Context())
		if err != nil {
			s.serverError(w, "list queue", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data":  entries,
			"count": len(entries),
		})

	case http.MethodPost:
		var req struct {
			Item string `json:"item"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		item := strings.TrimSpace(req.Item)
		if item == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "item is required"})
			return
		}
		added, err := s.store.Enqueue(r.Context(), item)
		if err != nil {
			s.serverError(w, "enqueue", err)
			return
		}
		status := http.StatusCreated
		if !added {
			status = http.StatusOK
		}
		writeJSON(w, status, map[string]any{"item": item, "added": added})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	next, ok, err := s.schedule.Next(r.Context())
	if err != nil {
		s.serverError(w, "read schedule", err)
		return
	}
	eligible, err := s.schedule.ShouldPostNow(r.Context(), false)
	if err != nil {
		s.serverError(w, "read schedule", err)
		return
	}

	resp := map[string]any{"eligible_now": eligible}
	if ok {
		resp["next_eligible"] = next.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	locks, err := s.store.ListLocks(r.Context())
	if err != nil {
		s.serverError(w, "list locks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  locks,
		"count": len(locks),
	})
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
