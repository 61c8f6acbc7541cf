// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package introspection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"
)

// ReadinessCheck reports whether the process is ready and a per-component
// detail for the response body.
type ReadinessCheck func(ctx context.Context) (ready bool, details map[string]string)

// Server serves the variables of a Registry plus health, readiness and
// pprof endpoints.
type Server struct {
	addr      string
	registry  *Registry
	readiness ReadinessCheck
	mux       *http.ServeMux
	server    *http.Server
	logger    *slog.Logger
}

// NewServer creates a debug server listening on addr. Without a
// ReadinessCheck, /readyz always answers ready.
func NewServer(addr string, registry *Registry, readiness ReadinessCheck, logger *slog.Logger) *Server {
	s := &Server{
		addr:      addr,
		registry:  registry,
		readiness: readiness,
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "debug-server"),
	}

	s.mux.HandleFunc("/debug/vars", s.handleIndex)
	s.mux.HandleFunc("/debug/vars/", s.handleVar)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)

	s.mux.HandleFunc("/debug/pprof/", pprof.Index)
	s.mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	s.mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	s.mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	s.mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("path %q not found", r.URL.Path))
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		// pprof profiles stream for up to 30s by default
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler of the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("starting debug server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("debug server shutdown failed: %w", err)
		}
		s.logger.Info("debug server stopped")
		return nil

	case err := <-serverErr:
		return fmt.Errorf("debug server error: %w", err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	paths := s.registry.Paths()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"paths": paths,
		"count": len(paths),
	})
}

func (s *Server) handleVar(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/debug/vars/"), "/")
	switch path {
	case "":
		s.handleIndex(w, r)
		return
	case "all":
		all, err := s.registry.All()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, all)
		return
	}

	value, err := s.registry.GetWithField(path, r.URL.Query().Get("field"))
	switch {
	case errors.Is(err, ErrVarNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, value)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if s.readiness == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
		return
	}

	ready, details := s.readiness(r.Context())
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"ready":      ready,
		"components": details,
	})
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "only GET is allowed")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	//nolint:errchkjson // nowhere to report a failure of the error response
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
