// Package server exposes the command dispatcher over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/comigor/notarobot/internal/logger"
	"github.com/comigor/notarobot/internal/metrics"
	"github.com/comigor/notarobot/pkg/commands"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the command API.
type Server struct {
	dispatcher *commands.Dispatcher
	store      Pinger
	metrics    *metrics.Metrics
}

// New creates a Server. m may be nil, in which case /metrics answers 404.
func New(d *commands.Dispatcher, store Pinger, m *metrics.Metrics) *Server {
	return &Server{dispatcher: d, store: store, metrics: m}
}

type commandRequest struct {
	Author string         `json:"author"`
	Args   map[string]any `json:"args"`
}

type commandResponse struct {
	Reply string `json:"reply"`
}

type commandInfo struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Params      []commands.Param `json:"params"`
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/commands", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/{name}", s.handleCommand)
	})
	return r
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Author == "" {
		Error(w, http.StatusBadRequest, "author is required")
		return
	}

	logger.L.Debug("http command", "command", name, "request_id", chiMiddleware.GetReqID(r.Context()))
	reply := s.dispatcher.Dispatch(r.Context(), name, commands.Invocation{
		Author: req.Author,
		Args:   commands.ArgsFromAny(req.Args),
	})
	JSON(w, http.StatusOK, commandResponse{Reply: reply})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	cmds := s.dispatcher.Registry().List()
	out := make([]commandInfo, 0, len(cmds))
	for _, c := range cmds {
		params := c.Params()
		if params == nil {
			params = []commands.Param{}
		}
		out = append(out, commandInfo{Name: c.Name(), Description: c.Description(), Params: params})
	}
	JSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "store": "ok"}
	code := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		logger.L.Error("health check failed", "error", err)
		status["status"] = "degraded"
		status["store"] = "unreachable"
		code = http.StatusServiceUnavailable
	}
	JSON(w, code, status)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.L.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Error("encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
