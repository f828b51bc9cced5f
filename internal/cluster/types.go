package cluster

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	minPort = 1
	maxPort = 65535
)

// Address is the network identity of a storage node
type Address struct {
	// Host is the hostname or IP the node listens on
	Host string `json:"host"`
	// Port is the TCP port the node listens on
	Port int `json:"port"`
}

// NodeRecord represents one storage node known to the cluster
type NodeRecord struct {
	// Address identifies the node and never changes once registered
	Address Address `json:"address"`
	// Active is the last recorded liveness state of the node
	Active bool `json:"active"`
}

// Validate reports whether the address can identify a node
func (a Address) Validate() error {
	if strings.TrimSpace(a.Host) == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidAddress)
	}
	if a.Port < minPort || a.Port > maxPort {
		return fmt.Errorf("%w: port %d out of range [%d, %d]", ErrInvalidAddress, a.Port, minPort, maxPort)
	}
	return nil
}

// String returns the address in host:port form
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParseAddress parses a host:port string into a validated Address
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("%w: invalid port %q", ErrInvalidAddress, portStr)
	}

	addr := Address{Host: host, Port: port}
	if err := addr.Validate(); err != nil {
		return Address{}, err
	}
	return addr, nil
}

// compareAddresses orders addresses by host, then port
func compareAddresses(a, b Address) int {
	if c := strings.Compare(a.Host, b.Host); c != 0 {
		return c
	}
	return a.Port - b.Port
}
