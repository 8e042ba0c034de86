// Package httpapi exposes the external health and metrics HTTP surface
// (spec.md §6). Grounded on the teacher's chi + otelhttp wiring in
// gateway/routes/router.go and cmd/gateway/main.go.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cowprotocol/tenderly-watch-tower/health"
)

// Server serves GET /health and GET /metrics.
type Server struct {
	httpSrv *http.Server
}

// Handler builds the bare chi router (no otelhttp wrapping), exported
// separately from New so tests can drive it directly with httptest.
func Handler(agg *health.Aggregator, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		snap := agg.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if snap.IsHealthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snap)
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

// New builds the router and wraps it in otelhttp instrumentation. addr is
// typically ":<api-port>".
func New(addr string, agg *health.Aggregator, reg *prometheus.Registry) *Server {
	handler := otelhttp.NewHandler(Handler(agg, reg), "watch-tower")
	return &Server{httpSrv: &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}}
}

// ListenAndServe blocks serving until the server is shut down; the
// http.ErrServerClosed return that follows Shutdown is swallowed as the
// expected case.
func (s *Server) ListenAndServe() error {
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

