package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server exposes /metrics (Prometheus exposition) and /health (a bare
// liveness check) on its own port, independent of the creator's queue
// consumer or the watcher's observation loop.
type Server struct {
	server *http.Server
	log    *logrus.Logger
}

// NewServer builds a Server listening on port (a bare port number, no
// leading colon, matching the teacher's NewServer(port, logger) shape).
func NewServer(port string, log *logrus.Logger) *Server {
	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: router},
		log:    log,
	}
}

// StartAsync starts the server in a background goroutine. Errors other
// than a clean shutdown are logged; StartAsync itself never blocks or
// returns an error.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("metrics server stopped unexpectedly")
		}
	}()
}

// Stop gracefully shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
