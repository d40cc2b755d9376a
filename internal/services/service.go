// Package services starts and stops the daemon's long-running components
// (the control socket and the metrics endpoint) as a unit.
package services

import (
	"context"

	"grimm.is/warden/internal/config"
)

// Health is what `warden status` shows for a component.
type Health struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Addr    string `json:"addr,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Service is a component the daemon runs for its whole lifetime.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() Health
}

// Reloader is implemented by services that pick up configuration changes
// on SIGHUP. restarted reports whether the service had to rebind.
type Reloader interface {
	Reload(cfg *config.Config) (restarted bool, err error)
}
