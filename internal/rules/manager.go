package rules

import (
	"context"
	"sort"
	"sync"
	"time"

	"grimm.is/warden/internal/audit"
	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/fwdata"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
)

// DefaultCleanupInterval is the sweep period of a default daemon config.
const DefaultCleanupInterval = 10 * time.Second

// Journal receives lifecycle events. *audit.Store implements it.
type Journal interface {
	Write(evt audit.Event) error
}

// Config configures a Manager.
type Config struct {
	// MaxRules caps the number of indexed rules. Zero means unlimited.
	MaxRules int

	// CleanupInterval is the sweep period. Zero disables automatic sweeps;
	// CleanupExpired can still be called directly.
	CleanupInterval time.Duration

	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Journal Journal
}

// Status summarizes the manager state.
type Status struct {
	Size        int
	Capacity    int
	ByFamily    map[string]int
	SweepActive bool
	Interval    time.Duration
	LastSweep   time.Time
	Sweeps      uint64
}

// Manager owns the rule index and the expiry sweep.
type Manager struct {
	backend  firewall.Backend
	maxRules int
	interval time.Duration
	clock    clock.Clock
	logger   *logging.Logger
	metrics  *metrics.Registry
	journal  Journal

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	idx       *index
	active    bool
	closed    bool
	lastSweep time.Time
	sweeps    uint64

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a manager over backend. The index starts empty; call Refresh
// to adopt rules already present in the backend.
func New(backend firewall.Backend, cfg Config) *Manager {
	interval := cfg.CleanupInterval
	if interval < 0 {
		interval = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		backend:  backend,
		maxRules: cfg.MaxRules,
		interval: interval,
		clock:    clock.OrReal(cfg.Clock),
		logger:   logging.OrDefault(cfg.Logger).WithComponent("rules"),
		metrics:  cfg.Metrics,
		journal:  cfg.Journal,
		ctx:      ctx,
		cancel:   cancel,
		idx:      newIndex(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	if interval > 0 {
		go m.run()
	} else {
		close(m.done)
	}
	return m
}

// Close stops the sweep goroutine and waits for it. Rules stay in the
// backend.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.cancel()
	})
	<-m.done
	return nil
}

// setActiveLocked records whether the sweep should run and signals the
// sweep goroutine on change. Callers hold m.mu.
func (m *Manager) setActiveLocked(active bool) {
	if m.active == active {
		return
	}
	m.active = active
	if active {
		m.logger.Debug("expiry sweep enabled", "interval", m.interval)
	} else {
		m.logger.Debug("expiry sweep disabled")
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// List returns the indexed rules ordered by expiration.
func (m *Manager) List() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, m.idx.len())
	for _, e := range m.idx.expiry.items {
		out = append(out, e.export())
	}
	return out
}

// Lookup returns the indexed rule with the given id.
func (m *Manager) Lookup(id firewall.FilterID) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.idx.byID[id]
	if !ok {
		return Entry{}, false
	}
	return e.export(), true
}

// Status returns a snapshot of the manager state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Size:        m.idx.len(),
		Capacity:    m.maxRules,
		ByFamily:    m.countsLocked(),
		SweepActive: m.active,
		Interval:    m.interval,
		LastSweep:   m.lastSweep,
		Sweeps:      m.sweeps,
	}
}

// Counts reports indexed rules per family for the metrics collector.
func (m *Manager) Counts() metrics.RuleCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return metrics.RuleCounts{ByFamily: m.countsLocked()}
}

func (m *Manager) countsLocked() map[string]int {
	out := map[string]int{
		fwdata.FamilyIPv4.String(): m.idx.counts[fwdata.FamilyIPv4],
		fwdata.FamilyIPv6.String(): m.idx.counts[fwdata.FamilyIPv6],
	}
	return out
}

func (m *Manager) record(ctx context.Context, evt audit.Event) {
	if m.journal == nil {
		return
	}
	if evt.RequestID == "" {
		evt.RequestID = audit.RequestID(ctx)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = m.clock.Now()
	}
	if err := m.journal.Write(evt); err != nil {
		m.logger.Warn("failed to write journal event", "action", evt.Action, "error", err)
	}
}

func (m *Manager) backendError(op string, err error) {
	if m.metrics != nil && err != nil {
		m.metrics.RecordBackendError(op)
	}
}

func (m *Manager) recordRemovals(reason string, n int) {
	if m.metrics != nil {
		m.metrics.RecordRemovals(reason, n)
	}
}

func eventFor(action string, e *entry) audit.Event {
	return audit.Event{
		Action:     action,
		RuleID:     uint64(e.id),
		Family:     e.family.String(),
		Hash:       e.hash.String(),
		Expiration: e.expiration,
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sortedIDs(rules map[firewall.FilterID]string) []firewall.FilterID {
	ids := make([]firewall.FilterID, 0, len(rules))
	for id := range rules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
