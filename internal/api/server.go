// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api provides the HTTP API for a running engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vestat/pkg/register"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

// Engine is the engine surface exposed over HTTP.
type Engine interface {
	Get(nameOrAddress string, priority bool) error
	Set(nameOrAddress, valueHex string, priority bool) error
	Ping() error
	Restart() error
	Update() map[string]register.Value
	Stats() vedirect.Statistics
	QueueLen() int
}

// Directory lists register definitions.
type Directory interface {
	Registers() []register.Info
	Lookup(name string) (register.Info, bool)
}

// Server is the HTTP API server.
type Server struct {
	listen    string
	server    *http.Server
	router    *mux.Router
	engine    Engine
	dir       Directory
	hub       *Hub
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a server. gatherer may be nil to omit /metrics.
func NewServer(listen string, engine Engine, dir Directory, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	s := &Server{
		listen:    listen,
		router:    mux.NewRouter(),
		engine:    engine,
		dir:       dir,
		logger:    logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
	s.hub = NewHub(s.logger)
	s.setupRoutes(gatherer)
	return s
}

// Hub returns the change stream hub. Its Listener should be subscribed to
// the register directory.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/registers", s.handleListRegisters).Methods("GET")
	api.HandleFunc("/registers/{name}", s.handleGetRegister).Methods("GET")
	api.HandleFunc("/registers/{name}/read", s.handleRead).Methods("POST")
	api.HandleFunc("/registers/{name}", s.handleWrite).Methods("PUT")
	api.HandleFunc("/ping", s.handlePing).Methods("POST")
	api.HandleFunc("/restart", s.handleRestart).Methods("POST")

	s.router.Handle("/ws", s.hub)
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              s.listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().Str("listen", s.listen).Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.engine.Stats()
	s.writeJSON(w, map[string]interface{}{
		"status":        "ok",
		"uptime":        time.Since(s.startTime).String(),
		"queue":         s.engine.QueueLen(),
		"validFrames":   stats.ValidFrames,
		"invalidFrames": stats.InvalidFrames,
		"sent":          stats.Sent,
		"acknowledged":  stats.Acknowledged,
		"timeouts":      stats.Timeouts,
		"restarts":      stats.Restarts,
	}, http.StatusOK)
}

func registerJSON(info register.Info) map[string]interface{} {
	return map[string]interface{}{
		"name":        info.Name,
		"address":     info.Address,
		"description": info.Description,
		"unit":        info.Unit,
		"precision":   info.Precision,
		"value":       info.Value,
		"committed":   info.Committed,
	}
}

func (s *Server) handleListRegisters(w http.ResponseWriter, _ *http.Request) {
	infos := s.dir.Registers()
	result := make([]map[string]interface{}, 0, len(infos))
	for _, info := range infos {
		result = append(result, registerJSON(info))
	}
	s.writeJSON(w, map[string]interface{}{
		"registers": result,
		"count":     len(result),
	}, http.StatusOK)
}

func (s *Server) handleGetRegister(w http.ResponseWriter, r *http.Request) {
	info, found := s.dir.Lookup(mux.Vars(r)["name"])
	if !found {
		s.writeError(w, "Register not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, registerJSON(info), http.StatusOK)
}

func priority(r *http.Request) bool {
	p, _ := strconv.ParseBool(r.URL.Query().Get("priority"))
	return p
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.engine.Get(name, priority(r)); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"queued": "get", "register": name}, http.StatusAccepted)
}

type writeRequest struct {
	Value    string `json:"value"`
	Priority bool   `json:"priority"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.engine.Set(name, req.Value, req.Priority || priority(r)); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"queued": "set", "register": name, "value": req.Value}, http.StatusAccepted)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Ping(); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"queued": "ping"}, http.StatusAccepted)
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Restart(); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"queued": "restart"}, http.StatusAccepted)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, vedirect.ErrEngineStopped) {
		s.writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.writeError(w, err.Error(), http.StatusBadRequest)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, map[string]interface{}{"error": message}, statusCode)
}
