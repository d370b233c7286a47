// SPDX-License-Identifier: LGPL-3.0-or-later

// Package metricsserver exposes the engine's Prometheus counters and a
// liveness probe over HTTP. It never participates in servicing itself
// — hostagentd runs it, when configured, purely so an operator's
// monitoring stack has something to scrape (spec's Non-goals exclude
// a full observability stack, but the ambient counters themselves are
// carried the way the teacher carries its own metrics package).
package metricsserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"hostagent/logger"
	"hostagent/status"
	"hostagent/tracing"
)

// Server is an HTTP server exposing /healthz and /metrics.
type Server struct {
	log    logger.Logger
	srv    *http.Server
	status func() *status.HostStatus
	tracer trace.Tracer
}

// New builds a Server bound to addr. statusFn is consulted by
// /healthz on every request; it should be cheap (e.g. backed by a
// cached in-memory copy of the last loaded Host Status, not a fresh
// datastore read per probe).
func New(addr string, log logger.Logger, statusFn func() *status.HostStatus) *Server {
	r := chi.NewRouter()
	s := &Server{log: log, status: statusFn, tracer: otel.Tracer("hostagent/metricsserver")}

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.TraceHTTPRequest(r.Context(), s.tracer, r.Method, r.URL.Path)
	defer span.End()

	hs := s.status()
	if hs == nil {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not-provisioned"))
		return
	}
	switch hs.ServicingState {
	case status.StateCleanInstallFailed, status.StateABUpdateFailed:
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
	}
	w.Write([]byte(string(hs.ServicingState)))
}

// ListenAndServe runs the server until ctx is canceled, at which point
// it shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
