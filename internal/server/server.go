// Package server exposes a running session over HTTP: a key input endpoint
// for remote keyboards and button boxes, plus health and state probes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kahana-sysadmin/UnityEPL/internal/eventqueue"
	"github.com/kahana-sysadmin/UnityEPL/internal/host"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// DefaultProbeTimeout bounds how long GET /state waits for the scheduler.
const DefaultProbeTimeout = 2 * time.Second

// StateSource is the run the state probe reports on. *statemachine.Runner
// satisfies it.
type StateSource interface {
	State() *api.State
	Status() api.RunStatus
	StepErr() error
}

// Server routes HTTP requests into the host manager.
type Server struct {
	router       chi.Router
	logger       *slog.Logger
	manager      *host.Manager
	source       StateSource
	probeTimeout time.Duration
	startTime    time.Time
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStateSource enables GET /state.
func WithStateSource(src StateSource) Option {
	return func(s *Server) { s.source = src }
}

func WithProbeTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// New creates a Server with all routes registered.
func New(m *host.Manager, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		logger:       logger.With("component", "server"),
		manager:      m,
		probeTimeout: DefaultProbeTimeout,
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Post("/keys/{key}", s.handleKey)
	r.Get("/state", s.handleState)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg, RequestID: RequestIDFromContext(r.Context())})
}

type healthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Quitting bool   `json:"quitting"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		Quitting: s.manager.Quitting(),
	})
}

type keyResponse struct {
	Key      string `json:"key"`
	Down     bool   `json:"down"`
	Handlers int    `json:"handlers"`
}

// handleKey routes one key event. ?down=false reports a release; the default
// is a press.
func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	down := true
	if v := r.URL.Query().Get("down"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "down must be a boolean")
			return
		}
		down = b
	}
	n := s.manager.Key(key, down)
	respondJSON(w, http.StatusAccepted, keyResponse{Key: key, Down: down, Handlers: n})
}

// StateView is the JSON form of a run's state.
type StateView struct {
	Participant string                `json:"participant"`
	Session     int                   `json:"session"`
	Status      api.RunStatus         `json:"status"`
	Complete    bool                  `json:"complete"`
	Cursors     map[api.MachineID]int `json:"cursors"`
	Ints        map[string]int        `json:"ints,omitempty"`
	Strings     map[string]string     `json:"strings,omitempty"`
	Flags       map[string]bool       `json:"flags,omitempty"`
	Queue       eventqueue.Stats      `json:"queue"`
	StepError   string                `json:"stepError,omitempty"`
}

// probe copies the run state on the scheduler goroutine.
func (s *Server) probe(ctx context.Context) (StateView, error) {
	ch := make(chan StateView, 1)
	s.manager.Do(eventqueue.Action("state probe", func() {
		st := s.source.State().Clone()
		var stepErr string
		if err := s.source.StepErr(); err != nil {
			stepErr = err.Error()
		}
		ch <- StateView{
			Participant: st.Identity.Participant,
			Session:     st.Identity.Session,
			Status:      s.source.Status(),
			Complete:    st.Complete,
			Cursors:     st.Cursors,
			Ints:        st.Ints,
			Strings:     st.Strings,
			Flags:       st.Flags,
			Queue:       s.manager.Queue().Stats(),
			StepError:   stepErr,
		}
	}))

	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return StateView{}, ctx.Err()
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		respondError(w, r, http.StatusNotFound, "no run attached")
		return
	}
	v, err := s.probe(r.Context())
	if errors.Is(err, context.DeadlineExceeded) {
		respondError(w, r, http.StatusServiceUnavailable, "scheduler did not answer")
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, v)
}
