package cluster

import "errors"

var (
	// ErrInvalidAddress is returned for an empty host or an out-of-range port
	ErrInvalidAddress = errors.New("invalid node address")
	// ErrAlreadyExists is returned when adding an address that is already registered
	ErrAlreadyExists = errors.New("node already exists")
	// ErrNotFound is returned when no node is registered under an address
	ErrNotFound = errors.New("node not found")
)
