package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/logging"
)

// Group runs services in registration order and stops them in reverse.
type Group struct {
	mu       sync.Mutex
	services []Service
	started  []Service
	logger   *logging.Logger
}

// NewGroup creates an empty group.
func NewGroup(logger *logging.Logger) *Group {
	return &Group{logger: logging.OrDefault(logger).WithComponent("services")}
}

// Register appends a service. Registering after Start has no effect on
// the running set.
func (g *Group) Register(svc Service) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.services = append(g.services, svc)
}

// Start starts every service. If one fails, the ones already started are
// stopped again and the error is returned.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, svc := range g.services {
		if err := svc.Start(ctx); err != nil {
			g.stopLocked(ctx)
			return fmt.Errorf("failed to start %s: %w", svc.Name(), err)
		}
		g.logger.Debug("service started", "service", svc.Name())
		g.started = append(g.started, svc)
	}
	return nil
}

// Stop stops the started services in reverse order.
func (g *Group) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopLocked(ctx)
}

func (g *Group) stopLocked(ctx context.Context) error {
	var errs []error
	for i := len(g.started) - 1; i >= 0; i-- {
		svc := g.started[i]
		if err := svc.Stop(ctx); err != nil {
			g.logger.Warn("service stop failed", "service", svc.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
		}
	}
	g.started = nil
	return errors.Join(errs...)
}

// Reload passes cfg to every service that implements Reloader and returns
// the names of those that restarted.
func (g *Group) Reload(cfg *config.Config) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var restarted []string
	var errs []error
	for _, svc := range g.services {
		r, ok := svc.(Reloader)
		if !ok {
			continue
		}
		restart, err := r.Reload(cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
			continue
		}
		if restart {
			restarted = append(restarted, svc.Name())
		}
	}
	return restarted, errors.Join(errs...)
}

// Health reports every registered service in registration order.
func (g *Group) Health() []Health {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Health, 0, len(g.services))
	for _, svc := range g.services {
		out = append(out, svc.Health())
	}
	return out
}
