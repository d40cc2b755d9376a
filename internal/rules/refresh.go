package rules

import (
	"context"
	"errors"
	"fmt"

	"grimm.is/warden/internal/audit"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/fwdata"
)

// RefreshReport summarizes one index rebuild.
type RefreshReport struct {
	Indexed        int
	Foreign        int
	Expired        int
	Duplicates     int
	FailedRemovals int
}

// discard is a backend rule Refresh decided to delete.
type discard struct {
	id     firewall.FilterID
	reason string
}

// Refresh rebuilds the index from the backend. Rules with foreign names are
// left alone, expired rules are deleted, and of two rules with the same hash
// only the later expiration survives. A List failure leaves the current
// index untouched.
func (m *Manager) Refresh(ctx context.Context) (RefreshReport, error) {
	var report RefreshReport

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return report, ErrClosed
	}

	listed, err := m.backend.List(ctx)
	if err != nil {
		m.mu.Unlock()
		m.backendError("list", err)
		if m.metrics != nil {
			m.metrics.RecordRefresh(err, 0)
		}
		m.logger.Error("failed to enumerate backend rules", "error", err)
		return report, fmt.Errorf("failed to refresh: %w", err)
	}

	now := m.clock.Now()
	idx := newIndex()
	var discards []discard

	for _, id := range sortedIDs(listed) {
		name := listed[id]
		exp, hash, err := fwdata.DecodeName(name)
		if err != nil {
			report.Foreign++
			continue
		}
		if !exp.After(now) {
			report.Expired++
			discards = append(discards, discard{id, "expired"})
			continue
		}

		e := &entry{id: id, hash: hash, family: hash.Family(), expiration: exp, name: name}
		if prev := idx.byHash[hash]; prev != nil {
			report.Duplicates++
			if exp.After(prev.expiration) {
				idx.remove(prev)
				idx.add(e)
				discards = append(discards, discard{prev.id, "duplicate"})
			} else {
				discards = append(discards, discard{id, "duplicate"})
			}
			continue
		}
		idx.add(e)
	}

	report.Indexed = idx.len()
	m.idx = idx
	m.setActiveLocked(idx.len() > 0)
	m.mu.Unlock()

	removed := map[string]int{}
	for _, d := range discards {
		if err := m.backend.Remove(ctx, d.id); err != nil && !errors.Is(err, firewall.ErrRuleNotFound) {
			report.FailedRemovals++
			m.backendError("remove", err)
			m.logger.Warn("failed to remove rule during refresh", "id", d.id, "reason", d.reason, "error", err)
			continue
		}
		removed[d.reason]++
	}
	for reason, n := range removed {
		m.recordRemovals(reason, n)
	}

	if m.metrics != nil {
		m.metrics.RecordRefresh(nil, report.Foreign)
	}
	m.record(ctx, audit.Event{
		Action: audit.ActionRefresh,
		Details: map[string]any{
			"indexed":         report.Indexed,
			"foreign":         report.Foreign,
			"expired":         report.Expired,
			"duplicates":      report.Duplicates,
			"failed_removals": report.FailedRemovals,
		},
	})
	m.logger.Info("index rebuilt",
		"indexed", report.Indexed,
		"foreign", report.Foreign,
		"expired", report.Expired,
		"duplicates", report.Duplicates,
		"failed_removals", report.FailedRemovals)
	return report, nil
}

// Remove deletes one managed rule. The rule must be indexed or carry a name
// this program produced; anything else fails with ErrNotManaged.
func (m *Manager) Remove(ctx context.Context, id firewall.FilterID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	e := m.idx.byID[id]
	if e == nil {
		listed, err := m.backend.List(ctx)
		if err != nil {
			m.backendError("list", err)
			return err
		}
		name, ok := listed[id]
		if !ok {
			return fmt.Errorf("rule %d: %w", id, ErrNotManaged)
		}
		exp, hash, err := fwdata.DecodeName(name)
		if err != nil {
			return fmt.Errorf("rule %d: %w", id, ErrNotManaged)
		}
		e = &entry{id: id, hash: hash, family: hash.Family(), expiration: exp, name: name}
	} else {
		m.idx.remove(e)
		m.setActiveLocked(m.idx.len() > 0)
	}

	err := m.backend.Remove(ctx, id)
	if errors.Is(err, firewall.ErrRuleNotFound) {
		err = nil
	}
	evt := eventFor(audit.ActionRemove, e)
	evt.Error = errText(err)
	m.record(ctx, evt)
	if err != nil {
		m.backendError("remove", err)
		return err
	}

	m.recordRemovals("manual", 1)
	m.logger.Info("rule removed", "id", id, "hash", e.hash.Short())
	return nil
}

// RemoveAll deletes every backend rule with a decodable name and clears the
// index. It returns the number of rules deleted.
func (m *Manager) RemoveAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	listed, err := m.backend.List(ctx)
	if err != nil {
		m.mu.Unlock()
		m.backendError("list", err)
		return 0, err
	}
	m.idx = newIndex()
	m.setActiveLocked(false)
	m.mu.Unlock()

	var targets []firewall.FilterID
	for _, id := range sortedIDs(listed) {
		if _, _, err := fwdata.DecodeName(listed[id]); err == nil {
			targets = append(targets, id)
		}
	}
	return m.removeIDs(ctx, targets, "manual")
}

// RemoveUnknown deletes backend rules whose names do not decode and that
// are not indexed, such as rules left over from an incompatible version.
func (m *Manager) RemoveUnknown(ctx context.Context) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	listed, err := m.backend.List(ctx)
	if err != nil {
		m.mu.Unlock()
		m.backendError("list", err)
		return 0, err
	}
	var targets []firewall.FilterID
	for _, id := range sortedIDs(listed) {
		if _, indexed := m.idx.byID[id]; indexed {
			continue
		}
		if _, _, err := fwdata.DecodeName(listed[id]); err != nil {
			targets = append(targets, id)
		}
	}
	m.mu.Unlock()

	return m.removeIDs(ctx, targets, "unknown")
}

func (m *Manager) removeIDs(ctx context.Context, ids []firewall.FilterID, reason string) (int, error) {
	var errs []error
	removed := 0
	for _, id := range ids {
		err := m.backend.Remove(ctx, id)
		if err != nil && !errors.Is(err, firewall.ErrRuleNotFound) {
			m.backendError("remove", err)
			m.logger.Warn("failed to remove rule", "id", id, "error", err)
			errs = append(errs, err)
			continue
		}
		removed++
		m.record(ctx, audit.Event{Action: audit.ActionRemove, RuleID: uint64(id), Outcome: reason})
	}
	m.recordRemovals(reason, removed)
	if removed > 0 {
		m.logger.Info("rules removed", "count", removed, "reason", reason)
	}
	return removed, errors.Join(errs...)
}
