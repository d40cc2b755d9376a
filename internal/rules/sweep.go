package rules

import (
	"context"
	"errors"
	"time"

	"grimm.is/warden/internal/audit"
	"grimm.is/warden/internal/firewall"
)

// run owns the sweep ticker. The ticker exists only while the index is
// non-empty; setActiveLocked wakes the loop on every transition.
func (m *Manager) run() {
	defer close(m.done)

	var ticker *time.Ticker
	var tick <-chan time.Time
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
			m.mu.Lock()
			active := m.active
			m.mu.Unlock()
			if active && ticker == nil {
				ticker = time.NewTicker(m.interval)
				tick = ticker.C
			} else if !active {
				stop()
			}
		case <-tick:
			m.CleanupExpired(m.ctx)
		}
	}
}

// CleanupExpired removes every indexed rule whose expiration has passed and
// returns how many were deleted from the backend. It does nothing while the
// sweep is disabled.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	m.mu.Lock()
	if !m.active || m.closed {
		m.mu.Unlock()
		return 0
	}
	now := m.clock.Now()
	due := m.idx.popExpired(now)
	m.mu.Unlock()

	start := time.Now()
	removed := 0
	for _, e := range due {
		err := m.backend.Remove(ctx, e.id)
		if err != nil && !errors.Is(err, firewall.ErrRuleNotFound) {
			m.logger.Warn("failed to remove expired rule", "id", e.id, "hash", e.hash.Short(), "error", err)
			m.backendError("remove", err)
			evt := eventFor(audit.ActionExpire, e)
			evt.Error = errText(err)
			m.record(ctx, evt)
			continue
		}
		removed++
		m.record(ctx, eventFor(audit.ActionExpire, e))
	}

	m.mu.Lock()
	m.lastSweep = now
	m.sweeps++
	if m.idx.len() == 0 {
		m.setActiveLocked(false)
	}
	m.mu.Unlock()

	if len(due) > 0 {
		m.logger.Info("expired rules removed", "count", removed, "failed", len(due)-removed)
	}
	m.recordRemovals("expired", removed)
	if m.metrics != nil {
		m.metrics.RecordSweep(time.Since(start))
	}
	return removed
}
