package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the prometheus registry over HTTP.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func Start(addr string, logger *zap.Logger, registry *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}

	go func() {
		if err := server.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start metrics server", zap.Error(err))
		}
	}()

	logger.Info("metrics server started", zap.String("address", addr))

	return server
}

func (s *Server) Stop() {
	if err := s.httpServer.Close(); err != nil {
		s.logger.Error("failed to stop metrics server", zap.Error(err))
	}
}
