package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultFailureThreshold  = 3
	defaultProbeConcurrency  = 16
)

// NodeStore is the part of the registry the failure detector reads and updates
type NodeStore interface {
	ListNodes() []NodeRecord
	SetNodeActive(addr Address, active bool) error
}

// FailureDetector probes registered nodes and flips their liveness flag
// after consecutive missed heartbeats. It never adds or removes nodes.
type FailureDetector struct {
	mu          sync.Mutex
	store       NodeStore
	checker     HealthChecker
	missed      map[Address]int
	interval    time.Duration
	threshold   int
	concurrency int
	logger      *zap.Logger
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// FailureDetectorOption configures a FailureDetector
type FailureDetectorOption func(*FailureDetector)

// WithDetectorLogger sets the logger used by the failure detector
func WithDetectorLogger(logger *zap.Logger) FailureDetectorOption {
	return func(fd *FailureDetector) {
		if logger != nil {
			fd.logger = logger
		}
	}
}

// WithProbeConcurrency bounds the number of health checks in flight per round
func WithProbeConcurrency(n int) FailureDetectorOption {
	return func(fd *FailureDetector) {
		if n > 0 {
			fd.concurrency = n
		}
	}
}

// NewFailureDetector creates a new instance of FailureDetector
func NewFailureDetector(store NodeStore, checker HealthChecker, interval time.Duration, threshold int, opts ...FailureDetectorOption) *FailureDetector {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}

	fd := &FailureDetector{
		store:       store,
		checker:     checker,
		missed:      make(map[Address]int),
		interval:    interval,
		threshold:   threshold,
		concurrency: defaultProbeConcurrency,
		logger:      zap.NewNop(),
		stopChan:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(fd)
	}
	return fd
}

// Start runs heartbeat rounds until ctx is done or Stop is called
func (fd *FailureDetector) Start(ctx context.Context) {
	ticker := time.NewTicker(fd.interval)
	defer ticker.Stop()

	fd.logger.Info("Failure detector started",
		zap.Duration("interval", fd.interval),
		zap.Int("threshold", fd.threshold),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-fd.stopChan:
			return
		case <-ticker.C:
			fd.RunOnce(ctx)
		}
	}
}

// Stop stops the heartbeat monitoring
func (fd *FailureDetector) Stop() {
	fd.stopOnce.Do(func() {
		close(fd.stopChan)
	})
}

// RunOnce probes every registered node once and applies the results
func (fd *FailureDetector) RunOnce(ctx context.Context) {
	nodes := fd.store.ListNodes()
	results := make([]bool, len(nodes))

	// Probe without holding any lock; each probe owns its own timeout
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fd.concurrency)
	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, fd.probeTimeout())
			defer cancel()
			results[i] = fd.checker.Check(probeCtx, node.Address.String()) == nil
			return nil
		})
	}
	_ = g.Wait()

	fd.mu.Lock()
	defer fd.mu.Unlock()

	present := make(map[Address]struct{}, len(nodes))
	for i, node := range nodes {
		present[node.Address] = struct{}{}
		fd.apply(node, results[i])
	}

	// Forget counters of nodes that left the registry
	for addr := range fd.missed {
		if _, ok := present[addr]; !ok {
			delete(fd.missed, addr)
		}
	}
}

// MissedBeats returns the current consecutive miss count for addr
func (fd *FailureDetector) MissedBeats(addr Address) int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.missed[addr]
}

// apply must be called with fd.mu held
func (fd *FailureDetector) apply(node NodeRecord, healthy bool) {
	addr := node.Address

	if healthy {
		delete(fd.missed, addr)
		if !node.Active {
			fd.setActive(addr, true)
		}
		return
	}

	fd.missed[addr]++
	if fd.missed[addr] >= fd.threshold && node.Active {
		fd.logger.Warn("Node missed heartbeats",
			zap.String("address", addr.String()),
			zap.Int("missed", fd.missed[addr]),
		)
		fd.setActive(addr, false)
	}
}

func (fd *FailureDetector) setActive(addr Address, active bool) {
	err := fd.store.SetNodeActive(addr, active)
	if err == nil || errors.Is(err, ErrNotFound) {
		// Node may have been removed during the round
		return
	}
	fd.logger.Error("Failed to update node liveness",
		zap.String("address", addr.String()),
		zap.Error(err),
	)
}

func (fd *FailureDetector) probeTimeout() time.Duration {
	return fd.interval / 3
}
