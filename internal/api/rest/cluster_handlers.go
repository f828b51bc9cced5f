package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/arohanajit/distributed-file-system/internal/cluster"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const defaultMaxBodyBytes = 64 * 1024

// ClusterHandler exposes the node registry over HTTP
type ClusterHandler struct {
	registry     cluster.NodeRegistry
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewClusterHandler creates a new instance of ClusterHandler
func NewClusterHandler(registry cluster.NodeRegistry, logger *zap.Logger, maxBodyBytes int64) *ClusterHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &ClusterHandler{
		registry:     registry,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// RegisterRoutes registers cluster membership routes
func (h *ClusterHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/cluster/nodes", h.handleAddNode).Methods(http.MethodPost)
	r.HandleFunc("/cluster/nodes", h.handleListNodes).Methods(http.MethodGet)
	r.HandleFunc("/cluster/nodes/{host}/{port}", h.handleGetNode).Methods(http.MethodGet)
	r.HandleFunc("/cluster/nodes/{host}/{port}", h.handleRemoveNode).Methods(http.MethodDelete)
	r.HandleFunc("/cluster/nodes/{host}/{port}/active", h.handleIsNodeActive).Methods(http.MethodGet)
}

// activeResponse is the body of GET /cluster/nodes/{host}/{port}/active
type activeResponse struct {
	Active bool `json:"active"`
}

// handleAddNode handles POST /cluster/nodes requests
func (h *ClusterHandler) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var addr cluster.Address
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&addr); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// The body must hold exactly one JSON object
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.registry.AddNode(addr); err != nil {
		h.writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, cluster.NodeRecord{Address: addr, Active: true})
}

// handleRemoveNode handles DELETE /cluster/nodes/{host}/{port} requests
func (h *ClusterHandler) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	addr, err := addressFromVars(r)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	if err := h.registry.RemoveNode(addr); err != nil {
		h.writeRegistryError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListNodes handles GET /cluster/nodes requests
func (h *ClusterHandler) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.ListNodes())
}

// handleGetNode handles GET /cluster/nodes/{host}/{port} requests
func (h *ClusterHandler) handleGetNode(w http.ResponseWriter, r *http.Request) {
	addr, err := addressFromVars(r)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	node, err := h.registry.GetNode(addr)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, node)
}

// handleIsNodeActive handles GET /cluster/nodes/{host}/{port}/active requests.
// Unknown nodes report inactive rather than 404.
func (h *ClusterHandler) handleIsNodeActive(w http.ResponseWriter, r *http.Request) {
	addr, err := addressFromVars(r)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, activeResponse{Active: h.registry.IsNodeActive(addr)})
}

func (h *ClusterHandler) writeRegistryError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Registry operation failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func addressFromVars(r *http.Request) (cluster.Address, error) {
	vars := mux.Vars(r)
	port, err := strconv.Atoi(vars["port"])
	if err != nil {
		return cluster.Address{}, fmt.Errorf("%w: invalid port %q", cluster.ErrInvalidAddress, vars["port"])
	}

	addr := cluster.Address{Host: vars["host"], Port: port}
	if err := addr.Validate(); err != nil {
		return cluster.Address{}, err
	}
	return addr, nil
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, cluster.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, cluster.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, cluster.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
