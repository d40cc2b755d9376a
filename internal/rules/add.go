package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grimm.is/warden/internal/audit"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/fwdata"
)

// Outcome is the result of adding one family layer of a request.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeReplaced      Outcome = "replaced"
	OutcomeStale         Outcome = "stale"
	OutcomeNearDuplicate Outcome = "near-duplicate"
	OutcomeExpired       Outcome = "expired"
	OutcomeFailed        Outcome = "failed"
)

// AddOptions carries the backend attributes of a new rule.
type AddOptions struct {
	Weight     uint64
	Permit     bool
	Persistent bool
}

// AddResult reports what happened in one family layer.
type AddResult struct {
	Family  fwdata.Family
	Hash    fwdata.Hash
	Outcome Outcome

	// ID is the live rule after the call: the new rule for created and
	// replaced, the existing one for duplicates.
	ID firewall.FilterID

	// Replaced is the rule that was superseded, if any.
	Replaced firewall.FilterID

	Err error
}

// Add installs the descriptor in every family layer it applies to. One
// result is returned per family; failures are joined into the error and do
// not stop the remaining families.
func (m *Manager) Add(ctx context.Context, d *fwdata.Descriptor, opts AddOptions) ([]AddResult, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	now := m.clock.Now()
	families := d.Families()
	results := make([]AddResult, 0, len(families))

	if !d.Expiration.After(now) {
		m.logger.Info("ignoring already expired rule", "conditions", d.Conditions.String(), "expiration", d.Expiration)
		for _, f := range families {
			res := AddResult{Family: f, Hash: d.FamilyHash(f), Outcome: OutcomeExpired}
			m.recordAdd(ctx, d, res, nil)
			results = append(results, res)
		}
		return results, nil
	}

	var errs []error
	for _, f := range families {
		res := m.addFamily(ctx, d, f, opts, now)
		m.recordAdd(ctx, d, res, res.Err)
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f, res.Err))
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (m *Manager) addFamily(ctx context.Context, d *fwdata.Descriptor, f fwdata.Family, opts AddOptions, now time.Time) AddResult {
	hash := d.FamilyHash(f)
	res := AddResult{Family: f, Hash: hash}

	// Held across the backend calls so (hash, family) is never indexed twice.
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		res.Outcome, res.Err = OutcomeFailed, ErrClosed
		return res
	}

	old := m.idx.byHash[hash]
	if old != nil {
		res.ID = old.id
		if d.Expiration.Before(old.expiration) {
			res.Outcome = OutcomeStale
			m.logger.Debug("dropping request", "reason", ErrDuplicate, "outcome", res.Outcome, "id", old.id, "hash", hash.Short())
			return res
		}
		if d.Expiration.Sub(old.expiration) < d.Expiration.Sub(now)/10 {
			res.Outcome = OutcomeNearDuplicate
			m.logger.Debug("dropping request", "reason", ErrDuplicate, "outcome", res.Outcome, "id", old.id, "hash", hash.Short())
			return res
		}
	} else if m.maxRules > 0 && m.idx.len() >= m.maxRules {
		res.Outcome, res.Err = OutcomeFailed, ErrCapacity
		m.logger.Warn("rule rejected", "error", ErrCapacity, "max_rules", m.maxRules, "hash", hash.Short())
		return res
	}

	name := d.Name(f)
	id, err := firewall.Add(ctx, m.backend, f, firewall.Rule{
		Name:       name,
		Conditions: d.Conditions,
		Weight:     opts.Weight,
		Permit:     opts.Permit,
		Persistent: opts.Persistent,
	})
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		m.backendError("add", err)
		m.logger.Error("failed to add rule", "family", f, "hash", hash.Short(), "error", err)
		return res
	}

	e := &entry{id: id, hash: hash, family: f, expiration: d.Expiration, name: name}
	res.ID = id

	if old == nil {
		m.idx.add(e)
		res.Outcome = OutcomeCreated
		m.logger.Info("rule added", "id", id, "family", f, "hash", hash.Short(), "expiration", d.Expiration)
	} else {
		m.idx.remove(old)
		m.idx.add(e)
		res.Outcome = OutcomeReplaced
		res.Replaced = old.id
		if err := m.backend.Remove(ctx, old.id); err != nil && !errors.Is(err, firewall.ErrRuleNotFound) {
			// The old rule is now untracked; the next Refresh resolves it.
			m.backendError("remove", err)
			m.logger.Warn("failed to remove replaced rule", "id", old.id, "error", err)
		} else {
			m.recordRemovals("replaced", 1)
		}
		m.logger.Info("rule extended", "id", id, "replaced", old.id, "family", f, "hash", hash.Short(), "expiration", d.Expiration)
	}

	m.setActiveLocked(true)
	return res
}

func (m *Manager) recordAdd(ctx context.Context, d *fwdata.Descriptor, res AddResult, err error) {
	if m.metrics != nil {
		m.metrics.RecordAdd(res.Family.String(), string(res.Outcome))
	}

	action := audit.ActionAdd
	if res.Outcome == OutcomeReplaced {
		action = audit.ActionReplace
	}
	evt := audit.Event{
		Action:     action,
		RuleID:     uint64(res.ID),
		Family:     res.Family.String(),
		Hash:       res.Hash.String(),
		Expiration: d.Expiration,
		Outcome:    string(res.Outcome),
		Error:      errText(err),
	}
	if res.Replaced != 0 {
		evt.Details = map[string]any{"replaced": uint64(res.Replaced)}
	}
	m.record(ctx, evt)
}
