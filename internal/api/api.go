// Package api serves the operational HTTP surface: a health endpoint,
// prometheus metrics, and the upload trigger. It is separate from the
// control channel, which stays a plain websocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/signlab/obsrelay/internal/statemachine"
)

// Controller exposes the session operations the ops surface reaches into.
type Controller interface {
	Status() statemachine.Status
	UploadLastRecording(endpoint string, fields, headers map[string]string) (bool, string)
}

// Config carries the listen address and the upload destination the trigger
// route forwards to the controller.
type Config struct {
	Addr           string
	UploadEndpoint string
	UploadFields   map[string]string
	UploadHeaders  map[string]string
}

// Server is the ops HTTP server.
type Server struct {
	httpSrv *http.Server
	log     zerolog.Logger
}

// New builds the ops server.
func New(cfg Config, ctrl Controller, reg *prometheus.Registry, log zerolog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := ctrl.Status()
		ok := status != statemachine.StatusNotConnected &&
			status != statemachine.StatusError &&
			status != statemachine.StatusTerminated

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":     ok,
			"status": status,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Post("/upload", func(w http.ResponseWriter, req *http.Request) {
		ok, msg := ctrl.UploadLastRecording(cfg.UploadEndpoint, cfg.UploadFields, cfg.UploadHeaders)
		if ok {
			log.Info().Str("msg", msg).Msg("upload triggered")
		} else {
			log.Error().Str("msg", msg).Msg("upload trigger failed")
		}

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusBadGateway)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":      ok,
			"message": msg,
		})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{
		httpSrv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("ops endpoint listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
