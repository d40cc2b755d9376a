//go:build linux
// +build linux

package firewall

import (
	"fmt"
	"sync"
	"syscall"

	"github.com/google/nftables"
	"github.com/stretchr/testify/mock"
)

// MockNFTablesConn is a mock implementation of NFTablesConn for testing.
//
// Like the kernel, it queues operations until Flush and assigns rule
// handles on commit. A Flush expectation that returns an error discards
// the queued batch.
type MockNFTablesConn struct {
	mock.Mock
	mu sync.Mutex

	nextHandle uint64
	nextSetID  uint32
	pending    []func() error

	tables map[string]*nftables.Table
	chains map[string]*nftables.Chain
	rules  map[string][]*nftables.Rule
	sets   map[string][]nftables.SetElement
}

// NewMockNFTablesConn creates a new mock nftables connection.
func NewMockNFTablesConn() *MockNFTablesConn {
	return &MockNFTablesConn{
		nextHandle: 1,
		tables:     make(map[string]*nftables.Table),
		chains:     make(map[string]*nftables.Chain),
		rules:      make(map[string][]*nftables.Rule),
		sets:       make(map[string][]nftables.SetElement),
	}
}

// AllowAll registers permissive expectations for every method, so tests
// only need to override the calls they care about.
func (m *MockNFTablesConn) AllowAll() *MockNFTablesConn {
	m.On("AddTable", mock.Anything).Return().Maybe()
	m.On("AddChain", mock.Anything).Return().Maybe()
	m.On("AddSet", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("AddRule", mock.Anything).Return().Maybe()
	m.On("InsertRule", mock.Anything).Return().Maybe()
	m.On("DelRule", mock.Anything).Return(nil).Maybe()
	m.On("GetRules", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	m.On("Flush").Return(nil).Maybe()
	return m
}

func chainKey(t *nftables.Table, c *nftables.Chain) string {
	return t.Name + "/" + c.Name
}

func (m *MockNFTablesConn) AddTable(t *nftables.Table) *nftables.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(t)
	m.pending = append(m.pending, func() error {
		m.tables[t.Name] = t
		return nil
	})
	return t
}

func (m *MockNFTablesConn) AddChain(c *nftables.Chain) *nftables.Chain {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(c)
	m.pending = append(m.pending, func() error {
		m.chains[chainKey(c.Table, c)] = c
		return nil
	})
	return c
}

func (m *MockNFTablesConn) AddSet(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s, vals)
	if s.ID == 0 {
		m.nextSetID++
		s.ID = m.nextSetID
	}
	if s.Anonymous {
		s.Name = fmt.Sprintf("__set%d", s.ID)
	}
	elems := append([]nftables.SetElement(nil), vals...)
	m.pending = append(m.pending, func() error {
		m.sets[s.Name] = elems
		return nil
	})
	return args.Error(0)
}

func (m *MockNFTablesConn) AddRule(r *nftables.Rule) *nftables.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(r)
	m.pending = append(m.pending, func() error {
		key := chainKey(r.Table, r.Chain)
		r.Handle = m.nextHandle
		m.nextHandle++
		m.rules[key] = append(m.rules[key], r)
		return nil
	})
	return r
}

func (m *MockNFTablesConn) InsertRule(r *nftables.Rule) *nftables.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(r)
	m.pending = append(m.pending, func() error {
		key := chainKey(r.Table, r.Chain)
		r.Handle = m.nextHandle
		m.nextHandle++
		// Insert at beginning
		m.rules[key] = append([]*nftables.Rule{r}, m.rules[key]...)
		return nil
	})
	return r
}

func (m *MockNFTablesConn) DelRule(r *nftables.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(r)
	if err := args.Error(0); err != nil {
		return err
	}
	m.pending = append(m.pending, func() error {
		key := chainKey(r.Table, r.Chain)
		rules := m.rules[key]
		for i, existing := range rules {
			if existing.Handle == r.Handle {
				m.rules[key] = append(rules[:i:i], rules[i+1:]...)
				return nil
			}
		}
		return syscall.ENOENT
	})
	return nil
}

func (m *MockNFTablesConn) GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(t, c)
	if args.Get(0) != nil {
		return args.Get(0).([]*nftables.Rule), args.Error(1)
	}
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return append([]*nftables.Rule(nil), m.rules[chainKey(t, c)]...), nil
}

func (m *MockNFTablesConn) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called()
	pending := m.pending
	m.pending = nil
	if err := args.Error(0); err != nil {
		return err
	}
	for _, op := range pending {
		if err := op(); err != nil {
			return err
		}
	}
	return nil
}

// Rules returns the committed rules of a chain.
func (m *MockNFTablesConn) Rules(table, chain string) []*nftables.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*nftables.Rule(nil), m.rules[table+"/"+chain]...)
}

// Set returns the committed elements of a set.
func (m *MockNFTablesConn) Set(name string) []nftables.SetElement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets[name]
}

// HasTable reports whether a table was committed.
func (m *MockNFTablesConn) HasTable(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[name]
	return ok
}

// HasChain reports whether a chain was committed.
func (m *MockNFTablesConn) HasChain(table, chain string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.chains[table+"/"+chain]
	return ok
}
