package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds all configuration settings for the membership server
type ServerConfig struct {
	// Server settings
	Port           int           `json:"port"`
	Host           string        `json:"host"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxPayloadSize int64         `json:"max_payload_size"`

	// Cluster settings
	AdvertiseAddr string // host:port peers use to reach this node; defaults to Host:Port
	ClusterNodes  string // Comma-separated list of initial node addresses.

	// Failure detection settings
	HeartbeatInterval time.Duration `json:"heartbeat_interval"` // Time between node health checks
	FailureThreshold  int           `json:"failure_threshold"`  // Missed heartbeats before a node is marked inactive

	// Discovery settings
	EtcdEndpoints []string `json:"etcd_endpoints"`
	EtcdPrefix    string   `json:"etcd_prefix"`
	EtcdLeaseTTL  int64    `json:"etcd_lease_ttl"`

	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultConfig returns a ServerConfig with default values
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:              8080,
		Host:              "0.0.0.0",
		RequestTimeout:    10 * time.Second,
		MaxPayloadSize:    64 * 1024, // 64KB
		ClusterNodes:      "",
		HeartbeatInterval: 5 * time.Second,
		FailureThreshold:  3,
		EtcdPrefix:        "/services/dfs/nodes/",
		EtcdLeaseTTL:      30,
		ShutdownTimeout:   30 * time.Second,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *ServerConfig {
	config := DefaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Host = host
	}

	if timeout := os.Getenv("REQUEST_TIMEOUT"); timeout != "" {
		if duration, err := time.ParseDuration(timeout); err == nil {
			config.RequestTimeout = duration
		}
	}

	if maxSize := os.Getenv("MAX_PAYLOAD_SIZE"); maxSize != "" {
		if size, err := strconv.ParseInt(maxSize, 10, 64); err == nil {
			config.MaxPayloadSize = size
		}
	}

	if advertise := os.Getenv("ADVERTISE_ADDR"); advertise != "" {
		config.AdvertiseAddr = advertise
	}

	if clusterNodes := os.Getenv("CLUSTER_NODES"); clusterNodes != "" {
		config.ClusterNodes = clusterNodes
	}

	if heartbeatInterval := os.Getenv("HEARTBEAT_INTERVAL"); heartbeatInterval != "" {
		if duration, err := time.ParseDuration(heartbeatInterval); err == nil {
			config.HeartbeatInterval = duration
		}
	}

	if threshold := os.Getenv("FAILURE_THRESHOLD"); threshold != "" {
		if t, err := strconv.Atoi(threshold); err == nil {
			config.FailureThreshold = t
		}
	}

	if endpoints := os.Getenv("ETCD_ENDPOINTS"); endpoints != "" {
		config.EtcdEndpoints = splitList(endpoints)
	}

	if prefix := os.Getenv("ETCD_PREFIX"); prefix != "" {
		config.EtcdPrefix = prefix
	}

	if ttl := os.Getenv("ETCD_LEASE_TTL"); ttl != "" {
		if t, err := strconv.ParseInt(ttl, 10, 64); err == nil {
			config.EtcdLeaseTTL = t
		}
	}

	if shutdownTimeout := os.Getenv("SHUTDOWN_TIMEOUT"); shutdownTimeout != "" {
		if duration, err := time.ParseDuration(shutdownTimeout); err == nil {
			config.ShutdownTimeout = duration
		}
	}

	return config
}

// Validate checks if the configuration is valid
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if len(c.EtcdEndpoints) > 0 {
		if c.EtcdLeaseTTL <= 0 {
			return fmt.Errorf("etcd lease TTL must be positive, got %d", c.EtcdLeaseTTL)
		}
		if err := validateAdvertise(c.Advertise()); err != nil {
			return err
		}
	}
	return nil
}

// validateAdvertise rejects addresses peers cannot dial, such as 0.0.0.0 or ::
func validateAdvertise(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid advertise address %q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("advertise address %q has no host; set ADVERTISE_ADDR", addr)
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return fmt.Errorf("advertise address %q is unspecified; set ADVERTISE_ADDR", addr)
	}
	return nil
}

// Advertise returns the address this node publishes to its peers
func (c *ServerConfig) Advertise() string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return c.ListenAddr()
}

// ListenAddr returns the address the HTTP server binds to
func (c *ServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
