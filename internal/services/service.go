// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package services defines the lifecycle contract shared by the
// gateway's long-running components (the HTTP-proxy listener, the
// SOCKS5 listener). The profile is loaded once at process start and is
// immutable thereafter, so unlike a firewall's services there is no
// Reload: picking up a new profile means restarting the process.
package services

import "context"

// Status represents the current state of a service.
type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// Service defines the standard lifecycle methods for a listener.
type Service interface {
	// Name returns the unique name of the service.
	Name() string

	// Start starts the service. It returns once the listener is bound;
	// accept handling runs in background goroutines.
	Start(ctx context.Context) error

	// Stop performs a graceful shutdown: the accept loop stops and
	// in-flight connections are given until ctx is done to drain.
	Stop(ctx context.Context) error

	// Status returns the current status of the service.
	Status() Status
}
