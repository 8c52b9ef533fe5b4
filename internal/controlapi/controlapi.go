// Package controlapi implements the small HTTP surface named in
// spec.md §6: liveness/health, location-config read/patch, queue
// status, and local update status, plus a /metrics endpoint.
package controlapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tagbridge/internal/logging"
)

// Sentinel errors providers return to drive the endpoint's status-code
// mapping, per spec.md §6's "Error codes" line.
var (
	ErrMissingCompanyID = errors.New("controlapi: missing companyId")
	ErrUnauthenticated  = errors.New("controlapi: unauthenticated")
	ErrLocationNotFound = errors.New("controlapi: location not found")
)

// HealthStatus is the GET /health response body.
type HealthStatus struct {
	Status string `json:"status"`
	Auth   bool   `json:"auth"`
	Queue  string `json:"queue"`
	Config string `json:"config"`
}

// HealthProvider reports liveness and dependency status.
type HealthProvider interface {
	Health(ctx context.Context) HealthStatus
}

// ConfigGetter resolves the merged location configuration. fromCache
// reports whether the value served was the last known good snapshot
// rather than a fresh fetch.
type ConfigGetter interface {
	GetLocationConfig(ctx context.Context, companyID, location string) (config map[string]any, fromCache bool, err error)
}

// ConfigPutter patches the location configuration.
type ConfigPutter interface {
	PutLocationConfig(ctx context.Context, companyID, location string, patch map[string]any) error
}

// QueueStatusProvider reports staging-queue occupancy.
type QueueStatusProvider interface {
	QueueStatus(ctx context.Context) (connected bool, retryQueueLength int, isProcessing bool, err error)
}

// UpdateStatusProvider reports the local updater's status file
// contents, opaque to this package.
type UpdateStatusProvider interface {
	UpdateStatus(ctx context.Context) (string, error)
}

// Config wires whichever providers the hosting binary has. Any
// provider may be nil; the corresponding endpoint then responds 501,
// except /health, which answers 200 with status "ok".
type Config struct {
	Addr         string
	Health       HealthProvider
	ConfigGetter ConfigGetter
	ConfigPutter ConfigPutter
	QueueStatus  QueueStatusProvider
	UpdateStatus UpdateStatusProvider
	Logger       *slog.Logger
}

// Server is the Control API HTTP server, grounded on the teacher's
// receiver/http (net.Listen + http.Server + graceful Shutdown with
// timeout) shape.
type Server struct {
	addr     string
	cfg      Config
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
}

// New constructs a Server. Call Run to start it.
func New(cfg Config) *Server {
	return &Server{
		addr:   cfg.Addr,
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "controlapi"),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/config/location/{name}", s.handleGetLocationConfig)
	mux.HandleFunc("PUT /api/config/location/{name}", s.handlePutLocationConfig)
	mux.HandleFunc("GET /api/redis/status", s.handleQueueStatus)
	mux.HandleFunc("GET /api/config/updates/status", s.handleUpdateStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("control API starting", "addr", s.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("control API stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Addr returns the listener address. Only valid after Run has started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health == nil {
		writeJSON(w, http.StatusOK, HealthStatus{Status: "ok"})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Health.Health(r.Context()))
}

func (s *Server) handleGetLocationConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ConfigGetter == nil {
		http.Error(w, "not supported", http.StatusNotImplemented)
		return
	}
	companyID := r.URL.Query().Get("companyId")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, ErrMissingCompanyID)
		return
	}
	config, fromCache, err := s.cfg.ConfigGetter.GetLocationConfig(r.Context(), companyID, r.PathValue("name"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "config": config, "fromCache": fromCache})
}

func (s *Server) handlePutLocationConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ConfigPutter == nil {
		http.Error(w, "not supported", http.StatusNotImplemented)
		return
	}
	companyID := r.URL.Query().Get("companyId")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, ErrMissingCompanyID)
		return
	}
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.ConfigPutter.PutLocationConfig(r.Context(), companyID, r.PathValue("name"), patch); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.QueueStatus == nil {
		http.Error(w, "not supported", http.StatusNotImplemented)
		return
	}
	connected, length, processing, err := s.cfg.QueueStatus.QueueStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected":        connected,
		"retryQueueLength": length,
		"isProcessing":     processing,
	})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.UpdateStatus == nil {
		http.Error(w, "not supported", http.StatusNotImplemented)
		return
	}
	status, err := s.cfg.UpdateStatus.UpdateStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

// statusFor maps a provider-returned sentinel error to its HTTP status,
// per spec.md §6's error-code line; anything else is 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrLocationNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}
