//go:build linux
// +build linux

package firewall

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/userdata"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/fwdata"
	"grimm.is/warden/internal/logging"
)

// NFTConfig names the table and chain the backend manages.
type NFTConfig struct {
	Table    string
	Chain    string
	Priority int32
}

// DefaultNFTConfig returns the default table layout.
func DefaultNFTConfig() NFTConfig {
	return NFTConfig{Table: "warden", Chain: "filter"}
}

// NFTBackend implements Backend on a dedicated nftables inet table.
type NFTBackend struct {
	mu     sync.Mutex
	conn   NFTablesConn
	table  *nftables.Table
	chain  *nftables.Chain
	store  RuleStore
	logger *logging.Logger
	clock  clock.Clock
	retry  Backoff
}

// NewNFTBackend opens a netlink connection and returns a backend using it.
// Call Open before use.
func NewNFTBackend(cfg NFTConfig, store RuleStore, logger *logging.Logger) (*NFTBackend, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create nftables connection: %w", err)
	}
	return NewNFTBackendWithConn(conn, cfg, store, logger), nil
}

// NewNFTBackendWithConn creates a backend with a specific connection.
// A nil store disables persistence.
func NewNFTBackendWithConn(conn NFTablesConn, cfg NFTConfig, store RuleStore, logger *logging.Logger) *NFTBackend {
	logger = logging.OrDefault(logger)
	def := DefaultNFTConfig()
	if cfg.Table == "" {
		cfg.Table = def.Table
	}
	if cfg.Chain == "" {
		cfg.Chain = def.Chain
	}

	table := &nftables.Table{Name: cfg.Table, Family: nftables.TableFamilyINet}
	policy := nftables.ChainPolicyAccept
	priority := nftables.ChainPriorityRef(nftables.ChainPriority(cfg.Priority))

	return &NFTBackend{
		conn:  conn,
		table: table,
		chain: &nftables.Chain{
			Name:     cfg.Chain,
			Table:    table,
			Type:     nftables.ChainTypeFilter,
			Hooknum:  nftables.ChainHookInput,
			Priority: priority,
			Policy:   &policy,
		},
		store:  store,
		logger: logger.WithComponent("firewall"),
		clock:  clock.Real,
		retry:  DefaultBackoff(),
	}
}

// SetClock overrides the clock used for persistence TTLs.
func (b *NFTBackend) SetClock(c clock.Clock) {
	b.clock = clock.OrReal(c)
}

// SetBackoff overrides the netlink retry policy.
func (b *NFTBackend) SetBackoff(cfg Backoff) {
	b.retry = cfg
}

// Open creates the table and chain if needed and replays persistent rules
// missing from the chain.
func (b *NFTBackend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := Retry(ctx, b.retry, func() error {
		b.conn.AddTable(b.table)
		b.conn.AddChain(b.chain)
		return classifyNetlink(b.conn.Flush())
	})
	if err != nil {
		return &BackendError{Op: "open", Err: fmt.Errorf("failed to create table %s: %w", b.table.Name, err)}
	}

	b.logger.Info("nftables chain ready", "table", b.table.Name, "chain", b.chain.Name)
	return b.replayLocked(ctx)
}

func (b *NFTBackend) replayLocked(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	stored, err := b.store.Load()
	if err != nil {
		return &BackendError{Op: "open", Err: fmt.Errorf("failed to load persistent rules: %w", err)}
	}
	if len(stored) == 0 {
		return nil
	}

	live, err := b.listLocked(ctx)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(live))
	for _, name := range live {
		present[name] = true
	}

	replayed := 0
	for name, data := range stored {
		if present[name] {
			continue
		}
		if ttl := persistTTL(name, b.clock.Now()); ttl < 0 {
			_ = b.store.Delete(name)
			continue
		}
		family, rule, err := decodeStoredRule(name, data)
		if err != nil {
			b.logger.Warn("discarding unreadable persistent rule", "name", name, "error", err)
			_ = b.store.Delete(name)
			continue
		}
		if _, err := b.addLocked(ctx, family, rule, false); err != nil {
			b.logger.Error("failed to replay persistent rule", "name", name, "error", err)
			continue
		}
		replayed++
	}
	if replayed > 0 {
		b.logger.Info("replayed persistent rules", "count", replayed)
	}
	return nil
}

func (b *NFTBackend) List(ctx context.Context) (map[FilterID]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listLocked(ctx)
}

func (b *NFTBackend) getRules(ctx context.Context) ([]*nftables.Rule, error) {
	return RetryValue(ctx, b.retry, func() ([]*nftables.Rule, error) {
		rules, err := b.conn.GetRules(b.table, b.chain)
		return rules, classifyNetlink(err)
	})
}

func (b *NFTBackend) listLocked(ctx context.Context) (map[FilterID]string, error) {
	rules, err := b.getRules(ctx)
	if err != nil {
		return nil, &BackendError{Op: "list", Err: err}
	}
	out := make(map[FilterID]string, len(rules))
	for _, r := range rules {
		name, _ := userdata.GetString(r.UserData, userdata.TypeComment)
		out[FilterID(r.Handle)] = name
	}
	return out, nil
}

func (b *NFTBackend) AddIPv4(ctx context.Context, rule Rule) (FilterID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(ctx, fwdata.FamilyIPv4, rule, rule.Persistent)
}

func (b *NFTBackend) AddIPv6(ctx context.Context, rule Rule) (FilterID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(ctx, fwdata.FamilyIPv6, rule, rule.Persistent)
}

func (b *NFTBackend) addLocked(ctx context.Context, family fwdata.Family, rule Rule, persist bool) (FilterID, error) {
	err := Retry(ctx, b.retry, func() error {
		spec, err := compileRule(b.table, family, rule)
		if err != nil {
			return err
		}
		for _, s := range spec.sets {
			if err := b.conn.AddSet(s.set, s.elems); err != nil {
				return fmt.Errorf("failed to add match set: %w", err)
			}
		}
		spec.bindSets()

		r := &nftables.Rule{
			Table:    b.table,
			Chain:    b.chain,
			Exprs:    spec.exprs,
			UserData: userdata.AppendString(nil, userdata.TypeComment, rule.Name),
		}
		if rule.Weight > 0 || rule.Permit {
			b.conn.InsertRule(r)
		} else {
			b.conn.AddRule(r)
		}
		return classifyNetlink(b.conn.Flush())
	})
	if err != nil {
		return 0, &BackendError{Op: "add", Err: err}
	}

	// The commit succeeded; only the lookup is retried from here on.
	id, err := RetryValue(ctx, b.retry, func() (FilterID, error) {
		return b.findHandle(rule.Name)
	})
	if err != nil {
		return 0, &BackendError{Op: "add", Err: err}
	}

	if persist && b.store != nil {
		data, err := encodeStoredRule(family, rule)
		if err == nil {
			err = b.store.Save(rule.Name, data, persistTTL(rule.Name, b.clock.Now()))
		}
		if err != nil {
			b.logger.Warn("failed to persist rule", "name", rule.Name, "error", err)
		}
	}

	b.logger.Debug("rule added", "id", id, "family", family, "name", rule.Name)
	return id, nil
}

// findHandle recovers the handle of a just-committed rule. When a name
// occurs more than once the newest handle wins.
func (b *NFTBackend) findHandle(name string) (FilterID, error) {
	rules, err := b.conn.GetRules(b.table, b.chain)
	if err != nil {
		return 0, classifyNetlink(err)
	}
	var handle uint64
	for _, r := range rules {
		if comment, ok := userdata.GetString(r.UserData, userdata.TypeComment); ok && comment == name && r.Handle > handle {
			handle = r.Handle
		}
	}
	if handle == 0 {
		return 0, fmt.Errorf("committed rule %q not found in chain %s", name, b.chain.Name)
	}
	return FilterID(handle), nil
}

func (b *NFTBackend) Remove(ctx context.Context, id FilterID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rules, err := b.getRules(ctx)
	if err != nil {
		return &BackendError{Op: "remove", ID: id, Err: err}
	}
	var target *nftables.Rule
	for _, r := range rules {
		if FilterID(r.Handle) == id {
			target = r
			break
		}
	}
	if target == nil {
		return &BackendError{Op: "remove", ID: id, Err: ErrRuleNotFound}
	}

	err = Retry(ctx, b.retry, func() error {
		if err := b.conn.DelRule(&nftables.Rule{Table: b.table, Chain: b.chain, Handle: target.Handle}); err != nil {
			return err
		}
		return classifyNetlink(b.conn.Flush())
	})
	if err != nil {
		return &BackendError{Op: "remove", ID: id, Err: err}
	}

	if b.store != nil {
		if name, ok := userdata.GetString(target.UserData, userdata.TypeComment); ok {
			if err := b.store.Delete(name); err != nil {
				b.logger.Warn("failed to drop persisted rule", "name", name, "error", err)
			}
		}
	}
	return nil
}
