package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/arohanajit/distributed-file-system/internal/api/rest"
	"github.com/arohanajit/distributed-file-system/internal/cluster"
	"github.com/arohanajit/distributed-file-system/internal/config"
	"github.com/arohanajit/distributed-file-system/internal/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// newRootCommand builds the server command; flags override environment configuration
func newRootCommand() *cobra.Command {
	cfg := config.LoadConfig()

	cmd := &cobra.Command{
		Use:           "dfs-membership",
		Short:         "Node registry for the distributed file system",
		Long:          "Tracks storage nodes, their addresses and liveness, and serves membership queries over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Host, "host", cfg.Host, "address to listen on")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "port to listen on")
	flags.StringVar(&cfg.AdvertiseAddr, "advertise", cfg.AdvertiseAddr, "host:port advertised to peers (default host:port)")
	flags.StringVar(&cfg.ClusterNodes, "cluster-nodes", cfg.ClusterNodes, "comma-separated host:port list of initial nodes")
	flags.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "interval between node health checks")
	flags.IntVar(&cfg.FailureThreshold, "failure-threshold", cfg.FailureThreshold, "missed heartbeats before a node is marked inactive")
	flags.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "maximum time to serve one HTTP request")
	flags.StringSliceVar(&cfg.EtcdEndpoints, "etcd-endpoints", cfg.EtcdEndpoints, "etcd endpoints for membership discovery")
	flags.StringVar(&cfg.EtcdPrefix, "etcd-prefix", cfg.EtcdPrefix, "etcd key prefix for node registrations")

	return cmd
}

func run(ctx context.Context, cfg *config.ServerConfig) error {
	if err := config.InitLogger(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer config.Sync()
	logger := config.GetLogger()

	promMetrics := metrics.GetMetrics()
	registry := cluster.NewRegistry(
		cluster.WithLogger(config.Named("registry")),
		cluster.WithRecorder(promMetrics),
	)

	if err := cluster.SeedNodes(registry, cfg.ClusterNodes); err != nil {
		logger.Warn("Some seed nodes were rejected", zap.Error(err))
	}

	failureDetector := cluster.NewFailureDetector(
		registry,
		cluster.NewHTTPHealthChecker(&http.Client{Timeout: cfg.HeartbeatInterval / 3}),
		cfg.HeartbeatInterval,
		cfg.FailureThreshold,
		cluster.WithDetectorLogger(config.Named("failure-detector")),
	)

	var discovery *cluster.EtcdDiscovery
	if len(cfg.EtcdEndpoints) > 0 {
		discovery = cluster.NewEtcdDiscovery(registry, cluster.DiscoveryConfig{
			EtcdEndpoints: cfg.EtcdEndpoints,
			ServicePrefix: cfg.EtcdPrefix,
			LeaseTTL:      cfg.EtcdLeaseTTL,
		}, config.Named("discovery"))
	}

	router := rest.NewRouter(rest.RouterConfig{
		Registry:       registry,
		Metrics:        promMetrics,
		MetricsHandler: metrics.Handler(),
		Logger:         config.Named("http"),
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   cfg.MaxPayloadSize,
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	var deregisterer cluster.Deregisterer
	if discovery != nil {
		deregisterer = discovery
	}
	shutdownMgr := cluster.NewShutdownManager(server, failureDetector, deregisterer, logger, cfg.ShutdownTimeout)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		failureDetector.Start(gctx)
		return nil
	})

	if discovery != nil {
		g.Go(func() error {
			if err := discovery.Start(gctx); err != nil {
				return fmt.Errorf("discovery: %w", err)
			}
			self, err := cluster.ParseAddress(cfg.Advertise())
			if err != nil {
				return fmt.Errorf("advertise address: %w", err)
			}
			return discovery.Register(gctx, self)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return shutdownMgr.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}

	logger.Info("Server shutdown completed")
	return nil
}
