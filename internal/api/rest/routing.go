package rest

import (
	"net/http"
	"time"

	"github.com/arohanajit/distributed-file-system/internal/cluster"
	"github.com/arohanajit/distributed-file-system/internal/metrics"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RouterConfig holds everything needed to build the HTTP router
type RouterConfig struct {
	Registry       cluster.NodeRegistry
	Metrics        *metrics.PrometheusMetrics
	MetricsHandler http.Handler
	Logger         *zap.Logger
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// NewRouter wires membership, health and metrics endpoints
func NewRouter(cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	if cfg.MetricsHandler != nil {
		router.Handle("/metrics", cfg.MetricsHandler).Methods(http.MethodGet)
	}

	NewClusterHandler(cfg.Registry, logger, cfg.MaxBodyBytes).RegisterRoutes(router)

	router.Use(LoggingMiddleware(logger))
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Middleware)
	}
	if cfg.RequestTimeout > 0 {
		router.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}

	return router
}
