//go:build linux

package firewall

import "github.com/google/nftables"

// NFTablesConn is the part of *nftables.Conn the backend uses. Tests pass a
// MockNFTablesConn instead of a netlink socket.
type NFTablesConn interface {
	AddTable(t *nftables.Table) *nftables.Table
	AddChain(c *nftables.Chain) *nftables.Chain
	// AddSet backs the anonymous sets of multi-term matches.
	AddSet(s *nftables.Set, vals []nftables.SetElement) error
	AddRule(r *nftables.Rule) *nftables.Rule
	InsertRule(r *nftables.Rule) *nftables.Rule
	DelRule(r *nftables.Rule) error
	GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error)
	// Flush commits the queued batch in one netlink transaction.
	Flush() error
}

var _ NFTablesConn = (*nftables.Conn)(nil)
