package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/juju/fslock"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/recoverylabs/recoveryd/metrics"
	rcfg "github.com/recoverylabs/recoveryd/recovery/config"
)

const dbLockFileName = "recoveryd.lock"

// Server is the main daemon construct. It handles spinning up the API
// server, the database, and the metrics endpoint.
type Server struct {
	started int32

	cfg             *rcfg.Config
	logger          *zap.Logger
	handler         http.Handler
	db              kvdb.Backend
	metricsRegistry *prometheus.Registry
}

// NewRecoveryServer creates a new server with the given config.
func NewRecoveryServer(cfg *rcfg.Config, logger *zap.Logger, handler http.Handler, db kvdb.Backend, registry *prometheus.Registry) *Server {
	return &Server{
		cfg:             cfg,
		logger:          logger,
		handler:         handler,
		db:              db,
		metricsRegistry: registry,
	}
}

// RunUntilShutdown runs the main server loop until the context is cancelled.
func (s *Server) RunUntilShutdown(ctx context.Context) error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}

	// Make sure only one daemon touches the database at a time.
	lockFile := filepath.Join(s.cfg.DatabaseConfig.DBPath, dbLockFileName)
	lock := fslock.New(lockFile)
	if err := lock.TryLock(); err != nil {
		return fmt.Errorf("another recoveryd instance is holding %s: %w", lockFile, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Error("failed to release instance lock", zap.Error(err))
		}
	}()

	defer func() {
		s.logger.Info("Shutdown complete")
	}()

	defer func() {
		s.logger.Info("Closing database...")
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		} else {
			s.logger.Info("Database closed")
		}
	}()

	if s.cfg.Metrics.Enabled {
		promAddr, err := s.cfg.Metrics.Address()
		if err != nil {
			return fmt.Errorf("failed to get prometheus address: %w", err)
		}
		metricsServer := metrics.Start(promAddr, s.logger, s.metricsRegistry)
		defer metricsServer.Stop()
	}

	listenAddr := s.cfg.APIListener
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", zap.String("address", lis.Addr().String()))
		if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.logger.Info("Recovery daemon is fully active!")

	select {
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to shut down API server", zap.Error(err))
	}

	return nil
}
