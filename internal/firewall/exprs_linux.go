//go:build linux
// +build linux

package firewall

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"slices"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"go4.org/netipx"
	"golang.org/x/sys/unix"

	"grimm.is/warden/internal/fwdata"
)

// portProtocols guard a port match when the rule names no protocol, the
// same dependency nft adds for "th dport".
var portProtocols = []uint8{unix.IPPROTO_TCP, unix.IPPROTO_UDP, unix.IPPROTO_UDPLITE, unix.IPPROTO_SCTP, unix.IPPROTO_DCCP}

// anonSet is an anonymous constant set that must be queued before the rule
// referencing it.
type anonSet struct {
	set   *nftables.Set
	elems []nftables.SetElement
}

// ruleSpec is the compiled form of one family-layer rule.
type ruleSpec struct {
	exprs []expr.Any
	sets  []anonSet
}

// compileRule builds the match expressions for the conditions of one family.
// Terms of the same field are alternatives; distinct fields must all match.
func compileRule(table *nftables.Table, family fwdata.Family, rule Rule) (*ruleSpec, error) {
	var addrs []fwdata.Condition
	var ports []fwdata.Condition
	var protos []uint8

	for _, c := range rule.Conditions.ForFamily(family) {
		switch c.Kind {
		case fwdata.KindPort, fwdata.KindPortRange:
			ports = append(ports, c)
		case fwdata.KindProtocol:
			protos = append(protos, c.Proto)
		default:
			addrs = append(addrs, c)
		}
	}

	spec := &ruleSpec{}
	spec.exprs = append(spec.exprs, matchNFProto(family)...)

	if len(addrs) > 0 {
		if err := spec.matchAddresses(table, family, addrs); err != nil {
			return nil, err
		}
	}

	if len(protos) == 0 && len(ports) > 0 {
		protos = portProtocols
	}
	if len(protos) > 0 {
		spec.matchProtocols(table, protos)
	}

	if len(ports) > 0 {
		spec.matchPorts(table, ports)
	}

	kind := expr.VerdictDrop
	if rule.Permit {
		kind = expr.VerdictAccept
	}
	spec.exprs = append(spec.exprs, &expr.Verdict{Kind: kind})
	return spec, nil
}

func matchNFProto(family fwdata.Family) []expr.Any {
	proto := byte(unix.NFPROTO_IPV4)
	if family == fwdata.FamilyIPv6 {
		proto = unix.NFPROTO_IPV6
	}
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
	}
}

// loadSaddr loads the source address into register 1.
func loadSaddr(family fwdata.Family) *expr.Payload {
	if family == fwdata.FamilyIPv6 {
		return &expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: 8, Len: 16}
	}
	return &expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: 12, Len: 4}
}

func (s *ruleSpec) matchAddresses(table *nftables.Table, family fwdata.Family, addrs []fwdata.Condition) error {
	s.exprs = append(s.exprs, loadSaddr(family))

	if len(addrs) == 1 {
		c := addrs[0]
		switch c.Kind {
		case fwdata.KindIPv4, fwdata.KindIPv6:
			s.exprs = append(s.exprs, &expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: c.Addr.AsSlice()})
		case fwdata.KindIPv4Prefix, fwdata.KindIPv6Prefix:
			p := netip.PrefixFrom(c.Addr, c.Bits)
			mask := prefixMask(p)
			s.exprs = append(s.exprs,
				&expr.Bitwise{
					SourceRegister: 1,
					DestRegister:   1,
					Len:            uint32(len(mask)),
					Mask:           mask,
					Xor:            make([]byte, len(mask)),
				},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: p.Masked().Addr().AsSlice()},
			)
		case fwdata.KindIPv4Range, fwdata.KindIPv6Range:
			s.exprs = append(s.exprs, &expr.Range{
				Op:       expr.CmpOpEq,
				Register: 1,
				FromData: c.Addr.AsSlice(),
				ToData:   c.Last.AsSlice(),
			})
		default:
			return fmt.Errorf("unsupported address condition %v", c.Kind)
		}
		return nil
	}

	// Several address terms: merge them into a normalized interval set.
	var b netipx.IPSetBuilder
	for _, c := range addrs {
		b.AddRange(c.IPRange())
	}
	ipset, err := b.IPSet()
	if err != nil {
		return fmt.Errorf("failed to build address set: %w", err)
	}

	keyType := nftables.TypeIPAddr
	if family == fwdata.FamilyIPv6 {
		keyType = nftables.TypeIP6Addr
	}
	var elems []nftables.SetElement
	for _, r := range ipset.Ranges() {
		elems = append(elems, nftables.SetElement{Key: r.From().AsSlice()})
		if next := r.To().Next(); next.IsValid() {
			elems = append(elems, nftables.SetElement{Key: next.AsSlice(), IntervalEnd: true})
		}
	}
	s.lookup(table, keyType, true, elems)
	return nil
}

func prefixMask(p netip.Prefix) []byte {
	size := p.Addr().BitLen() / 8
	mask := make([]byte, size)
	bits := p.Bits()
	for i := range mask {
		switch {
		case bits >= 8:
			mask[i] = 0xff
			bits -= 8
		case bits > 0:
			mask[i] = byte(0xff << (8 - bits))
			bits = 0
		}
	}
	return mask
}

func (s *ruleSpec) matchProtocols(table *nftables.Table, protos []uint8) {
	s.exprs = append(s.exprs, &expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1})

	protos = slices.Clone(protos)
	slices.Sort(protos)
	protos = slices.Compact(protos)

	if len(protos) == 1 {
		s.exprs = append(s.exprs, &expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{protos[0]}})
		return
	}
	elems := make([]nftables.SetElement, 0, len(protos))
	for _, p := range protos {
		elems = append(elems, nftables.SetElement{Key: []byte{p}})
	}
	s.lookup(table, nftables.TypeInetProto, false, elems)
}

type portSpan struct{ first, last uint16 }

func (s *ruleSpec) matchPorts(table *nftables.Table, ports []fwdata.Condition) {
	// th dport
	s.exprs = append(s.exprs, &expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2})

	spans := make([]portSpan, 0, len(ports))
	for _, c := range ports {
		last := c.Port
		if c.Kind == fwdata.KindPortRange {
			last = c.PortLast
		}
		spans = append(spans, portSpan{c.Port, last})
	}
	spans = mergeSpans(spans)

	if len(spans) == 1 {
		sp := spans[0]
		if sp.first == sp.last {
			s.exprs = append(s.exprs, &expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: be16(sp.first)})
		} else {
			s.exprs = append(s.exprs, &expr.Range{Op: expr.CmpOpEq, Register: 1, FromData: be16(sp.first), ToData: be16(sp.last)})
		}
		return
	}

	var elems []nftables.SetElement
	for _, sp := range spans {
		elems = append(elems, nftables.SetElement{Key: be16(sp.first)})
		if sp.last < 0xffff {
			elems = append(elems, nftables.SetElement{Key: be16(sp.last + 1), IntervalEnd: true})
		}
	}
	s.lookup(table, nftables.TypeInetService, true, elems)
}

// mergeSpans sorts spans and joins overlapping or adjacent ones; interval
// sets reject overlaps.
func mergeSpans(spans []portSpan) []portSpan {
	slices.SortFunc(spans, func(a, b portSpan) int { return int(a.first) - int(b.first) })
	out := spans[:1]
	for _, sp := range spans[1:] {
		cur := &out[len(out)-1]
		if uint32(sp.first) <= uint32(cur.last)+1 {
			if sp.last > cur.last {
				cur.last = sp.last
			}
			continue
		}
		out = append(out, sp)
	}
	return out
}

func (s *ruleSpec) lookup(table *nftables.Table, keyType nftables.SetDatatype, interval bool, elems []nftables.SetElement) {
	set := &nftables.Set{
		Table:     table,
		Anonymous: true,
		Constant:  true,
		Interval:  interval,
		KeyType:   keyType,
	}
	s.sets = append(s.sets, anonSet{set: set, elems: elems})
	s.exprs = append(s.exprs, &expr.Lookup{SourceRegister: 1})
}

// bindSets fills in set names and ids once the sets have been queued.
func (s *ruleSpec) bindSets() {
	i := 0
	for _, e := range s.exprs {
		if l, ok := e.(*expr.Lookup); ok {
			l.SetName = s.sets[i].set.Name
			l.SetID = s.sets[i].set.ID
			i++
		}
	}
}

func be16(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}
