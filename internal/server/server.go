// Package server exposes session control and the live display over HTTP
// for headless use.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voicescope/internal/domain"
	"voicescope/internal/health"
	"voicescope/internal/observe"
)

// stopTimeout bounds how long POST /session/stop waits for the producer.
const stopTimeout = 5 * time.Second

// Controller is the session lifecycle the server drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() domain.Status
}

// DisplayView returns the latest display.
type DisplayView interface {
	Current() domain.Display
}

type Server struct {
	controller Controller
	display    DisplayView
	stream     http.Handler
	health     *health.Handler
	metrics    *observe.Metrics
	log        *slog.Logger
}

// New builds a server. stream serves GET /ws and may be nil.
func New(controller Controller, display DisplayView, stream http.Handler, checks *health.Handler, metrics *observe.Metrics, log *slog.Logger) *Server {
	if checks == nil {
		checks = health.New()
	}
	if metrics == nil {
		metrics = observe.Discard()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		controller: controller,
		display:    display,
		stream:     stream,
		health:     checks,
		metrics:    metrics,
		log:        log,
	}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session/start", s.handleStart)
	mux.HandleFunc("POST /session/stop", s.handleStop)
	mux.HandleFunc("GET /session", s.handleStatus)
	mux.HandleFunc("GET /display", s.handleDisplay)
	if s.stream != nil {
		mux.Handle("GET /ws", s.stream)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	return observe.Middleware(s.metrics, s.log)(mux)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Start(r.Context()); err != nil {
		writeError(w, startStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()

	if err := s.controller.Stop(ctx); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrNoActiveSession):
			status = http.StatusConflict
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleDisplay(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.display.Current())
}

func startStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrEngineLaunch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
