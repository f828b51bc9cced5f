package cluster

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 30 * time.Second

// Deregisterer withdraws the local node from cluster discovery
type Deregisterer interface {
	Stop(ctx context.Context) error
}

// ShutdownManager handles the graceful shutdown sequence for a node
type ShutdownManager struct {
	server          *http.Server
	failureDetector *FailureDetector
	discovery       Deregisterer
	logger          *zap.Logger
	timeout         time.Duration
	mu              sync.Mutex
	isShuttingDown  bool
}

// NewShutdownManager creates a new ShutdownManager instance.
// Any component may be nil.
func NewShutdownManager(
	server *http.Server,
	failureDetector *FailureDetector,
	discovery Deregisterer,
	logger *zap.Logger,
	timeout time.Duration,
) *ShutdownManager {
	if timeout == 0 {
		timeout = defaultShutdownTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ShutdownManager{
		server:          server,
		failureDetector: failureDetector,
		discovery:       discovery,
		logger:          logger,
		timeout:         timeout,
	}
}

// Shutdown performs a graceful shutdown of the node
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	if sm.isShuttingDown {
		sm.mu.Unlock()
		return fmt.Errorf("shutdown already in progress")
	}
	sm.isShuttingDown = true
	sm.mu.Unlock()

	sm.logger.Info("Starting graceful shutdown sequence")

	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	var errs error

	// Step 1: withdraw from discovery so peers stop routing here
	if sm.discovery != nil {
		sm.logger.Info("Deregistering from the cluster")
		if err := sm.discovery.Stop(ctx); err != nil {
			sm.logger.Error("Error deregistering from the cluster", zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	// Step 2: stop probing peers
	if sm.failureDetector != nil {
		sm.logger.Info("Stopping failure detector")
		sm.failureDetector.Stop()
	}

	// Step 3: drain HTTP requests
	if sm.server != nil {
		sm.logger.Info("Stopping HTTP server - no longer accepting new requests")
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Error("Error shutting down HTTP server", zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	if errs != nil {
		return errs
	}

	sm.logger.Info("Graceful shutdown completed successfully")
	return nil
}
