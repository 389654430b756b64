// Package server exposes the operator endpoints: health, session status and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/danpilch/mrtbot/internal/metrics"
	"github.com/danpilch/mrtbot/internal/portal"
)

// SessionStatus reports the state of the shared portal session.
type SessionStatus interface {
	Status() portal.Status
}

// ChatCounter reports how many chats are tracked.
type ChatCounter interface {
	Chats() int
}

// StatusResponse is the JSON body of GET /status.
type StatusResponse struct {
	Portal   portal.Status `json:"portal"`
	Chats    int           `json:"chats"`
	Stations int           `json:"stations"`
}

type Server struct {
	session  SessionStatus
	chats    ChatCounter
	stations int
	logger   *logrus.Logger
	srv      *http.Server
}

func New(addr string, session SessionStatus, chats ChatCounter, stations int, logger *logrus.Logger) *Server {
	s := &Server{
		session:  session,
		chats:    chats,
		stations: stations,
		logger:   logger,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/status", s.status)
	r.Handle("/metrics", metrics.Handler())

	return r
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Portal:   s.session.Status(),
		Chats:    s.chats.Chats(),
		Stations: s.stations,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithField("error", err).Warn("failed to encode status response")
	}
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.WithField("addr", s.srv.Addr).Info("ops endpoint listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving ops endpoint: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
