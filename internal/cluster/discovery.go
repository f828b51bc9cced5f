package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultServicePrefix = "/services/dfs/nodes/"
	defaultLeaseTTL      = 30
	defaultDialTimeout   = 5 * time.Second
	maxRegisterBackoff   = 30 * time.Second
	resyncBackoff        = 500 * time.Millisecond
)

// SeedNodes registers every address of a comma-separated host:port list.
// Addresses already registered are skipped; malformed entries are reported together.
func SeedNodes(reg NodeRegistry, list string) error {
	var errs error
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		addr, err := ParseAddress(entry)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		if err := reg.AddNode(addr); err != nil && !errors.Is(err, ErrAlreadyExists) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// DiscoveryConfig contains configuration for EtcdDiscovery
type DiscoveryConfig struct {
	// EtcdEndpoints is a list of etcd endpoints
	EtcdEndpoints []string
	// ServicePrefix is the key prefix under which node addresses are stored
	ServicePrefix string
	// LeaseTTL is the time-to-live (in seconds) for the registration lease
	LeaseTTL int64
	// DialTimeout bounds the initial connection to etcd
	DialTimeout time.Duration
}

// membershipSource is the part of the etcd client used to follow node keys
type membershipSource interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan
}

// EtcdDiscovery mirrors node keys stored in etcd into the registry.
// A key <prefix><host:port> joins the node; deleting it removes the node.
// Nodes registered by other means are never removed by a resync.
type EtcdDiscovery struct {
	mu          sync.Mutex
	registry    NodeRegistry
	config      DiscoveryConfig
	client      *clientv3.Client
	source      membershipSource
	logger      *zap.Logger
	watchCancel context.CancelFunc
	leaseID     clientv3.LeaseID
	discovered  map[Address]struct{}
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewEtcdDiscovery creates a new EtcdDiscovery instance
func NewEtcdDiscovery(reg NodeRegistry, config DiscoveryConfig, logger *zap.Logger) *EtcdDiscovery {
	if config.ServicePrefix == "" {
		config.ServicePrefix = defaultServicePrefix
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaultLeaseTTL
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaultDialTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EtcdDiscovery{
		registry:   reg,
		config:     config,
		logger:     logger,
		discovered: make(map[Address]struct{}),
		stopCh:     make(chan struct{}),
	}
}

// Start connects to etcd, loads existing node keys and follows changes until Stop
func (d *EtcdDiscovery) Start(ctx context.Context) error {
	if len(d.config.EtcdEndpoints) == 0 {
		return fmt.Errorf("no etcd endpoints provided")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   d.config.EtcdEndpoints,
		DialTimeout: d.config.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to etcd: %w", err)
	}

	d.mu.Lock()
	d.client = client
	d.mu.Unlock()

	return d.follow(ctx, client)
}

// follow performs the initial load from src and starts the watch loop
func (d *EtcdDiscovery) follow(ctx context.Context, src membershipSource) error {
	if d.stopped() {
		return fmt.Errorf("discovery stopped")
	}

	d.mu.Lock()
	d.source = src
	d.mu.Unlock()

	rev, err := d.loadNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load nodes from etcd: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	if d.watchCancel != nil {
		d.watchCancel()
	}
	d.watchCancel = cancel
	d.mu.Unlock()

	go d.watchLoop(watchCtx, rev+1)
	return nil
}

// Register publishes self under a lease kept alive until Stop or ctx is done
func (d *EtcdDiscovery) Register(ctx context.Context, self Address) error {
	if err := self.Validate(); err != nil {
		return err
	}
	if d.stopped() {
		return fmt.Errorf("discovery stopped")
	}

	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil {
		return fmt.Errorf("etcd client not initialized")
	}

	lease, err := client.Grant(ctx, d.config.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	if _, err := client.Put(ctx, d.keyFor(self), self.String(), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}

	keepAliveCh, err := client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("failed to keep lease alive: %w", err)
	}

	d.mu.Lock()
	d.leaseID = lease.ID
	d.mu.Unlock()

	d.logger.Info("Registered with etcd",
		zap.String("address", self.String()),
		zap.Int64("lease_ttl", d.config.LeaseTTL),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case ka, ok := <-keepAliveCh:
				if !ok || ka == nil {
					// Stop revokes the lease, which also closes the channel
					if d.stopped() {
						return
					}
					d.logger.Warn("Lost etcd lease, re-registering", zap.String("address", self.String()))
					d.registerWithRetry(ctx, self)
					return
				}
			}
		}
	}()

	return nil
}

// registerWithRetry attempts to re-register with exponential backoff until
// it succeeds, ctx is done or Stop is called
func (d *EtcdDiscovery) registerWithRetry(ctx context.Context, self Address) {
	backoff := 1 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-time.After(backoff):
			if err := d.Register(ctx, self); err == nil {
				return
			}

			backoff *= 2
			if backoff > maxRegisterBackoff {
				backoff = maxRegisterBackoff
			}
		}
	}
}

// Stop cancels the watch, revokes the lease and closes the client.
// A stopped discovery cannot be restarted.
func (d *EtcdDiscovery) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.watchCancel != nil {
		d.watchCancel()
		d.watchCancel = nil
	}

	if d.client == nil {
		return nil
	}

	var errs error
	if d.leaseID != 0 {
		if _, err := d.client.Revoke(ctx, d.leaseID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to revoke lease: %w", err))
		}
		d.leaseID = 0
	}

	if err := d.client.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to close etcd client: %w", err))
	}
	d.client = nil

	return errs
}

func (d *EtcdDiscovery) stopped() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// loadNodes registers every node key currently stored, drops previously
// discovered nodes whose keys are gone, and returns the read revision
func (d *EtcdDiscovery) loadNodes(ctx context.Context) (int64, error) {
	d.mu.Lock()
	src := d.source
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.config.DialTimeout)
	defer cancel()

	resp, err := src.Get(ctx, d.config.ServicePrefix, clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}

	present := make(map[Address]struct{}, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if addr, ok := d.handlePut(string(kv.Key)); ok {
			present[addr] = struct{}{}
		}
	}

	d.mu.Lock()
	var gone []Address
	for addr := range d.discovered {
		if _, ok := present[addr]; !ok {
			gone = append(gone, addr)
		}
	}
	d.mu.Unlock()

	for _, addr := range gone {
		d.handleDelete(d.keyFor(addr))
	}

	var rev int64
	if resp.Header != nil {
		rev = resp.Header.Revision
	}
	return rev, nil
}

// watchLoop follows the prefix from rev. When the watch ends for any reason
// other than ctx being cancelled, membership is reloaded and the watch resumes
// from the reloaded revision.
func (d *EtcdDiscovery) watchLoop(ctx context.Context, rev int64) {
	for {
		d.watchOnce(ctx, rev)
		if ctx.Err() != nil {
			return
		}

		d.logger.Warn("etcd watch ended, resynchronising membership")
		next, ok := d.resync(ctx)
		if !ok {
			return
		}
		rev = next + 1
	}
}

// watchOnce applies events until the watch fails, closes or ctx is done
func (d *EtcdDiscovery) watchOnce(ctx context.Context, rev int64) {
	d.mu.Lock()
	src := d.source
	d.mu.Unlock()

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev))
	}
	watchChan := src.Watch(wctx, d.config.ServicePrefix, opts...)

	for {
		select {
		case <-ctx.Done():
			return
		case watchResp, ok := <-watchChan:
			if !ok {
				return
			}
			if err := watchResp.Err(); err != nil {
				d.logger.Error("etcd watch failed", zap.Error(err))
				return
			}

			for _, event := range watchResp.Events {
				switch event.Type {
				case clientv3.EventTypePut:
					d.handlePut(string(event.Kv.Key))
				case clientv3.EventTypeDelete:
					d.handleDelete(string(event.Kv.Key))
				}
			}
		}
	}
}

// resync reloads membership with backoff; false means ctx ended first
func (d *EtcdDiscovery) resync(ctx context.Context) (int64, bool) {
	backoff := resyncBackoff

	for {
		rev, err := d.loadNodes(ctx)
		if err == nil {
			return rev, true
		}
		d.logger.Error("Failed to reload nodes from etcd", zap.Error(err))

		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxRegisterBackoff {
			backoff = maxRegisterBackoff
		}
	}
}

func (d *EtcdDiscovery) handlePut(key string) (Address, bool) {
	addr, err := d.addressFromKey(key)
	if err != nil {
		d.logger.Warn("Ignoring malformed node key", zap.String("key", key), zap.Error(err))
		return Address{}, false
	}

	if err := d.registry.AddNode(addr); err != nil && !errors.Is(err, ErrAlreadyExists) {
		d.logger.Error("Failed to add discovered node", zap.String("address", addr.String()), zap.Error(err))
		return Address{}, false
	}

	d.mu.Lock()
	d.discovered[addr] = struct{}{}
	d.mu.Unlock()
	return addr, true
}

func (d *EtcdDiscovery) handleDelete(key string) {
	addr, err := d.addressFromKey(key)
	if err != nil {
		d.logger.Warn("Ignoring malformed node key", zap.String("key", key), zap.Error(err))
		return
	}

	d.mu.Lock()
	delete(d.discovered, addr)
	d.mu.Unlock()

	if err := d.registry.RemoveNode(addr); err != nil && !errors.Is(err, ErrNotFound) {
		d.logger.Error("Failed to remove departed node", zap.String("address", addr.String()), zap.Error(err))
	}
}

func (d *EtcdDiscovery) keyFor(addr Address) string {
	return d.config.ServicePrefix + addr.String()
}

func (d *EtcdDiscovery) addressFromKey(key string) (Address, error) {
	if !strings.HasPrefix(key, d.config.ServicePrefix) {
		return Address{}, fmt.Errorf("%w: key %q outside prefix %q", ErrInvalidAddress, key, d.config.ServicePrefix)
	}
	return ParseAddress(strings.TrimPrefix(key, d.config.ServicePrefix))
}
