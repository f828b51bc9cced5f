package cluster

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// Registry operation names reported to a Recorder
const (
	OpAddNode       = "add_node"
	OpRemoveNode    = "remove_node"
	OpSetNodeActive = "set_node_active"
)

// Recorder receives registry statistics after every operation
type Recorder interface {
	SetNodeCounts(total, active int)
	RecordOperation(op, result string)
}

// NodeRegistry defines the membership operations consumed by the rest of the system
type NodeRegistry interface {
	AddNode(addr Address) error
	RemoveNode(addr Address) error
	ListNodes() []NodeRecord
	IsNodeActive(addr Address) bool
	GetNode(addr Address) (NodeRecord, error)
	SetNodeActive(addr Address, active bool) error
}

// Registry is the authoritative in-memory set of known nodes, keyed by address.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	nodes    map[Address]*NodeRecord
	active   int
	logger   *zap.Logger
	recorder Recorder
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithLogger sets the logger used to report membership changes
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorder sets the recorder notified of node counts and operation results
func WithRecorder(recorder Recorder) RegistryOption {
	return func(r *Registry) {
		r.recorder = recorder
	}
}

// NewRegistry creates an empty Registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		nodes:  make(map[Address]*NodeRecord),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.recorder != nil {
		r.recorder.SetNodeCounts(0, 0)
	}
	return r
}

// AddNode registers a new active node under addr
func (r *Registry) AddNode(addr Address) error {
	if err := addr.Validate(); err != nil {
		r.record(OpAddNode, err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[addr]; exists {
		err := fmt.Errorf("%w: %s", ErrAlreadyExists, addr)
		r.record(OpAddNode, err)
		return err
	}

	r.nodes[addr] = &NodeRecord{Address: addr, Active: true}
	r.active++
	r.publishCounts()
	r.record(OpAddNode, nil)

	r.logger.Info("Node added", zap.String("address", addr.String()))
	return nil
}

// RemoveNode deletes the node registered under addr
func (r *Registry) RemoveNode(addr Address) error {
	if err := addr.Validate(); err != nil {
		r.record(OpRemoveNode, err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	node, exists := r.nodes[addr]
	if !exists {
		err := fmt.Errorf("%w: %s", ErrNotFound, addr)
		r.record(OpRemoveNode, err)
		return err
	}

	if node.Active {
		r.active--
	}
	delete(r.nodes, addr)
	r.publishCounts()
	r.record(OpRemoveNode, nil)

	r.logger.Info("Node removed", zap.String("address", addr.String()))
	return nil
}

// ListNodes returns a snapshot of all registered nodes ordered by host, then port.
// The returned slice is owned by the caller.
func (r *Registry) ListNodes() []NodeRecord {
	r.mu.RLock()
	nodes := make([]NodeRecord, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, *node)
	}
	r.mu.RUnlock()

	slices.SortFunc(nodes, func(a, b NodeRecord) int {
		return compareAddresses(a.Address, b.Address)
	})
	return nodes
}

// IsNodeActive reports whether addr is registered and active.
// An unknown address reports false.
func (r *Registry) IsNodeActive(addr Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, exists := r.nodes[addr]
	return exists && node.Active
}

// GetNode returns a copy of the record registered under addr
func (r *Registry) GetNode(addr Address) (NodeRecord, error) {
	if err := addr.Validate(); err != nil {
		return NodeRecord{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	node, exists := r.nodes[addr]
	if !exists {
		return NodeRecord{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return *node, nil
}

// SetNodeActive updates the liveness flag of a registered node.
// It is the entry point for failure detection; it never adds or removes nodes.
func (r *Registry) SetNodeActive(addr Address, active bool) error {
	if err := addr.Validate(); err != nil {
		r.record(OpSetNodeActive, err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	node, exists := r.nodes[addr]
	if !exists {
		err := fmt.Errorf("%w: %s", ErrNotFound, addr)
		r.record(OpSetNodeActive, err)
		return err
	}

	if node.Active != active {
		node.Active = active
		if active {
			r.active++
		} else {
			r.active--
		}
		r.publishCounts()
		r.logger.Info("Node liveness changed",
			zap.String("address", addr.String()),
			zap.Bool("active", active),
		)
	}
	r.record(OpSetNodeActive, nil)
	return nil
}

// Len returns the number of registered nodes
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// ActiveCount returns the number of registered nodes currently marked active
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// publishCounts must be called with r.mu held
func (r *Registry) publishCounts() {
	if r.recorder != nil {
		r.recorder.SetNodeCounts(len(r.nodes), r.active)
	}
}

func (r *Registry) record(op string, err error) {
	if r.recorder != nil {
		r.recorder.RecordOperation(op, OperationResult(err))
	}
}

// OperationResult maps a registry error to a short label
func OperationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
