package firewall

import (
	"context"
	"sort"
	"sync"

	"grimm.is/warden/internal/fwdata"
)

// MemoryRule is a rule held by MemoryBackend.
type MemoryRule struct {
	ID     FilterID
	Family fwdata.Family
	Rule   Rule
}

// MemoryBackend keeps rules in a map. It never talks to the kernel and is
// used for tests and dry-run daemons.
type MemoryBackend struct {
	mu     sync.Mutex
	nextID FilterID
	rules  map[FilterID]MemoryRule

	// Injected failures, returned once set until cleared.
	ListErr   error
	AddErr    error
	RemoveErr error

	// Call counters.
	Adds    int
	Removes int
	Lists   int

	// OnRemove, when set, is called before each removal (outside the lock).
	OnRemove func(id FilterID)
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nextID: 1,
		rules:  make(map[FilterID]MemoryRule),
	}
}

func (b *MemoryBackend) List(ctx context.Context) (map[FilterID]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Lists++
	if b.ListErr != nil {
		return nil, &BackendError{Op: "list", Err: b.ListErr}
	}
	out := make(map[FilterID]string, len(b.rules))
	for id, r := range b.rules {
		out[id] = r.Rule.Name
	}
	return out, nil
}

func (b *MemoryBackend) AddIPv4(ctx context.Context, rule Rule) (FilterID, error) {
	return b.add(fwdata.FamilyIPv4, rule)
}

func (b *MemoryBackend) AddIPv6(ctx context.Context, rule Rule) (FilterID, error) {
	return b.add(fwdata.FamilyIPv6, rule)
}

func (b *MemoryBackend) add(family fwdata.Family, rule Rule) (FilterID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Adds++
	if b.AddErr != nil {
		return 0, &BackendError{Op: "add", Err: b.AddErr}
	}
	id := b.nextID
	b.nextID++
	b.rules[id] = MemoryRule{ID: id, Family: family, Rule: rule}
	return id, nil
}

func (b *MemoryBackend) Remove(ctx context.Context, id FilterID) error {
	if b.OnRemove != nil {
		b.OnRemove(id)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.Removes++
	if b.RemoveErr != nil {
		return &BackendError{Op: "remove", ID: id, Err: b.RemoveErr}
	}
	if _, ok := b.rules[id]; !ok {
		return &BackendError{Op: "remove", ID: id, Err: ErrRuleNotFound}
	}
	delete(b.rules, id)
	return nil
}

// Inject places a rule with an arbitrary name, as if another program (or an
// earlier run) had created it.
func (b *MemoryBackend) Inject(family fwdata.Family, name string) FilterID {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.rules[id] = MemoryRule{ID: id, Family: family, Rule: Rule{Name: name}}
	return id
}

// Rules returns a snapshot ordered by id.
func (b *MemoryBackend) Rules() []MemoryRule {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]MemoryRule, 0, len(b.rules))
	for _, r := range b.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns one rule.
func (b *MemoryBackend) Get(id FilterID) (MemoryRule, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rules[id]
	return r, ok
}

// Len returns the number of live rules.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rules)
}

// SetFailures replaces the injected failures.
func (b *MemoryBackend) SetFailures(list, add, remove error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ListErr, b.AddErr, b.RemoveErr = list, add, remove
}

// Counts returns the call counters.
func (b *MemoryBackend) Counts() (adds, removes, lists int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Adds, b.Removes, b.Lists
}
