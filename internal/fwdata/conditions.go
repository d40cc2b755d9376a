package fwdata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"go4.org/netipx"
)

// Kind is the one-byte record tag of an encoded condition.
type Kind uint8

// Tag values are part of the persisted format. Append only.
const (
	KindExpiration Kind = iota
	KindIPv4
	KindIPv4Prefix
	KindIPv4Range
	KindIPv6
	KindIPv6Prefix
	KindIPv6Range
	KindPort
	KindPortRange
	KindProtocol
	kindCount
)

// payloadSize is the fixed payload length that follows each tag.
var payloadSize = [kindCount]int{
	KindExpiration: 8,
	KindIPv4:       4,
	KindIPv4Prefix: 4 + 1,
	KindIPv4Range:  4 + 4,
	KindIPv6:       16,
	KindIPv6Prefix: 16 + 1,
	KindIPv6Range:  16 + 16,
	KindPort:       2,
	KindPortRange:  2 + 2,
	KindProtocol:   1,
}

// Condition is one match term. Which fields are meaningful depends on Kind.
type Condition struct {
	Kind Kind

	Addr netip.Addr // address, prefix base or range start
	Last netip.Addr // range end
	Bits int        // prefix length

	Port     uint16 // port or port range start
	PortLast uint16 // port range end

	Proto uint8
}

// Address matches a single remote address. IPv4-mapped IPv6 addresses are
// stored as IPv4.
func Address(addr netip.Addr) Condition {
	addr = addr.Unmap()
	if addr.Is4() {
		return Condition{Kind: KindIPv4, Addr: addr}
	}
	return Condition{Kind: KindIPv6, Addr: addr}
}

// Prefix matches a remote network. A full-length prefix collapses to an
// Address so that "192.0.2.1" and "192.0.2.1/32" hash identically.
func Prefix(p netip.Prefix) (Condition, error) {
	if !p.IsValid() {
		return Condition{}, fmt.Errorf("invalid prefix %s", p)
	}
	addr, bits := p.Addr(), p.Bits()
	if addr.Is4In6() && bits >= 96 {
		addr, bits = addr.Unmap(), bits-96
	}
	masked := netip.PrefixFrom(addr, bits).Masked()
	if bits == masked.Addr().BitLen() {
		return Address(masked.Addr()), nil
	}
	if masked.Addr().Is4() {
		return Condition{Kind: KindIPv4Prefix, Addr: masked.Addr(), Bits: bits}, nil
	}
	return Condition{Kind: KindIPv6Prefix, Addr: masked.Addr(), Bits: bits}, nil
}

// Range matches an inclusive range of remote addresses.
func Range(r netipx.IPRange) (Condition, error) {
	from, to := r.From().Unmap(), r.To().Unmap()
	r = netipx.IPRangeFrom(from, to)
	if !r.IsValid() {
		return Condition{}, fmt.Errorf("invalid address range %s-%s", from, to)
	}
	if from == to {
		return Address(from), nil
	}
	if from.Is4() {
		return Condition{Kind: KindIPv4Range, Addr: from, Last: to}, nil
	}
	return Condition{Kind: KindIPv6Range, Addr: from, Last: to}, nil
}

// Port matches a local (destination) port.
func Port(p uint16) Condition {
	return Condition{Kind: KindPort, Port: p}
}

// PortRange matches an inclusive range of local ports.
func PortRange(first, last uint16) (Condition, error) {
	if first > last {
		return Condition{}, fmt.Errorf("invalid port range %d-%d", first, last)
	}
	if first == last {
		return Port(first), nil
	}
	return Condition{Kind: KindPortRange, Port: first, PortLast: last}, nil
}

// Protocol matches an IP protocol number (6 tcp, 17 udp, ...).
func Protocol(proto uint8) Condition {
	return Condition{Kind: KindProtocol, Proto: proto}
}

// Family returns the address family of an address condition, or 0 for
// family-agnostic conditions (ports and protocols).
func (c Condition) Family() Family {
	switch c.Kind {
	case KindIPv4, KindIPv4Prefix, KindIPv4Range:
		return FamilyIPv4
	case KindIPv6, KindIPv6Prefix, KindIPv6Range:
		return FamilyIPv6
	}
	return 0
}

// IPRange returns the addresses matched by an address condition.
func (c Condition) IPRange() netipx.IPRange {
	switch c.Kind {
	case KindIPv4, KindIPv6:
		return netipx.IPRangeFrom(c.Addr, c.Addr)
	case KindIPv4Prefix, KindIPv6Prefix:
		return netipx.RangeOfPrefix(netip.PrefixFrom(c.Addr, c.Bits))
	case KindIPv4Range, KindIPv6Range:
		return netipx.IPRangeFrom(c.Addr, c.Last)
	}
	return netipx.IPRange{}
}

func (c Condition) String() string {
	switch c.Kind {
	case KindIPv4, KindIPv6:
		return "addr=" + c.Addr.String()
	case KindIPv4Prefix, KindIPv6Prefix:
		return "addr=" + netip.PrefixFrom(c.Addr, c.Bits).String()
	case KindIPv4Range, KindIPv6Range:
		return "addr=" + c.Addr.String() + "-" + c.Last.String()
	case KindPort:
		return fmt.Sprintf("port=%d", c.Port)
	case KindPortRange:
		return fmt.Sprintf("port=%d-%d", c.Port, c.PortLast)
	case KindProtocol:
		return "proto=" + ProtocolName(c.Proto)
	}
	return fmt.Sprintf("kind(%d)", c.Kind)
}

// valid reports whether c can be encoded. Zero values and hand-built terms
// whose addresses disagree with their kind are dropped from the encoding.
func (c Condition) valid() bool {
	switch c.Kind {
	case KindIPv4:
		return c.Addr.Is4()
	case KindIPv6:
		return c.Addr.Is6()
	case KindIPv4Prefix:
		return c.Addr.Is4() && c.Bits >= 0 && c.Bits <= 32
	case KindIPv6Prefix:
		return c.Addr.Is6() && c.Bits >= 0 && c.Bits <= 128
	case KindIPv4Range:
		return c.Addr.Is4() && c.Last.Is4() && !c.Last.Less(c.Addr)
	case KindIPv6Range:
		return c.Addr.Is6() && c.Last.Is6() && !c.Last.Less(c.Addr)
	case KindPortRange:
		return c.Port <= c.PortLast
	case KindPort, KindProtocol:
		return true
	}
	return false
}

func (c Condition) appendRecord(buf []byte) []byte {
	buf = append(buf, byte(c.Kind))
	switch c.Kind {
	case KindIPv4, KindIPv6:
		buf = append(buf, c.Addr.AsSlice()...)
	case KindIPv4Prefix, KindIPv6Prefix:
		buf = append(buf, c.Addr.AsSlice()...)
		buf = append(buf, byte(c.Bits))
	case KindIPv4Range, KindIPv6Range:
		buf = append(buf, c.Addr.AsSlice()...)
		buf = append(buf, c.Last.AsSlice()...)
	case KindPort:
		buf = binary.BigEndian.AppendUint16(buf, c.Port)
	case KindPortRange:
		buf = binary.BigEndian.AppendUint16(buf, c.Port)
		buf = binary.BigEndian.AppendUint16(buf, c.PortLast)
	case KindProtocol:
		buf = append(buf, c.Proto)
	}
	return buf
}

// decodeRecord decodes the record starting at data[pos] and returns it with
// the offset of the next record.
func decodeRecord(data []byte, pos int) (Condition, int, error) {
	kind := Kind(data[pos])
	if kind == KindExpiration {
		return Condition{}, 0, parseErrorf("expiration record inside conditions at offset %d", pos)
	}
	if kind >= kindCount {
		return Condition{}, 0, parseErrorf("unknown record tag %d at offset %d", kind, pos)
	}
	start, end := pos+1, pos+1+payloadSize[kind]
	if end > len(data) {
		return Condition{}, 0, parseErrorf("truncated %s record at offset %d", kind, pos)
	}
	p := data[start:end]

	c := Condition{Kind: kind}
	switch kind {
	case KindIPv4:
		c.Addr = netip.AddrFrom4([4]byte(p))
	case KindIPv6:
		c.Addr = netip.AddrFrom16([16]byte(p))
	case KindIPv4Prefix, KindIPv6Prefix:
		n := len(p) - 1
		c.Addr, _ = netip.AddrFromSlice(p[:n])
		c.Bits = int(p[n])
		if c.Bits > n*8 {
			return Condition{}, 0, parseErrorf("prefix length %d out of range at offset %d", c.Bits, pos)
		}
	case KindIPv4Range, KindIPv6Range:
		n := len(p) / 2
		c.Addr, _ = netip.AddrFromSlice(p[:n])
		c.Last, _ = netip.AddrFromSlice(p[n:])
		if c.Last.Less(c.Addr) {
			return Condition{}, 0, parseErrorf("inverted address range at offset %d", pos)
		}
	case KindPort:
		c.Port = binary.BigEndian.Uint16(p)
	case KindPortRange:
		c.Port = binary.BigEndian.Uint16(p[:2])
		c.PortLast = binary.BigEndian.Uint16(p[2:])
		if c.PortLast < c.Port {
			return Condition{}, 0, parseErrorf("inverted port range at offset %d", pos)
		}
	case KindProtocol:
		c.Proto = p[0]
	}
	return canonical(c), end, nil
}

// canonical rebuilds a decoded term through its constructor, so records
// that arrive unmasked or over-long hash like the term the CLI would build.
func canonical(c Condition) Condition {
	var (
		out Condition
		err error
	)
	switch c.Kind {
	case KindIPv4, KindIPv6:
		return Address(c.Addr)
	case KindIPv4Prefix, KindIPv6Prefix:
		out, err = Prefix(netip.PrefixFrom(c.Addr, c.Bits))
	case KindIPv4Range, KindIPv6Range:
		out, err = Range(netipx.IPRangeFrom(c.Addr, c.Last))
	case KindPortRange:
		out, err = PortRange(c.Port, c.PortLast)
	default:
		return c
	}
	if err != nil {
		return c
	}
	return out
}

var kindNames = [kindCount]string{
	"expiration", "ipv4", "ipv4-prefix", "ipv4-range",
	"ipv6", "ipv6-prefix", "ipv6-range",
	"port", "port-range", "protocol",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Conditions is an ANDed set of match terms.
type Conditions struct {
	items []Condition
}

// NewConditions builds a set from the given terms.
func NewConditions(cs ...Condition) Conditions {
	var c Conditions
	c.Add(cs...)
	return c
}

// Add appends terms. Duplicates are harmless; they vanish on Encode.
func (c *Conditions) Add(cs ...Condition) {
	c.items = append(c.items, cs...)
}

// Len returns the number of distinct terms.
func (c Conditions) Len() int {
	return len(c.records())
}

// Items returns the distinct terms in canonical order.
func (c Conditions) Items() []Condition {
	recs := c.records()
	out := make([]Condition, 0, len(recs))
	for _, r := range recs {
		cond, _, err := decodeRecord(r, 0)
		if err == nil {
			out = append(out, cond)
		}
	}
	return out
}

// HasIPv4 reports whether any IPv4 address term is present.
func (c Conditions) HasIPv4() bool {
	return c.hasFamily(FamilyIPv4)
}

// HasIPv6 reports whether any IPv6 address term is present.
func (c Conditions) HasIPv6() bool {
	return c.hasFamily(FamilyIPv6)
}

func (c Conditions) hasFamily(f Family) bool {
	for _, item := range c.items {
		if item.valid() && item.Family() == f {
			return true
		}
	}
	return false
}

// Families returns the backend layers a rule with these terms lives in.
// Terms without any address are family-agnostic and need both layers.
func (c Conditions) Families() []Family {
	v4, v6 := c.HasIPv4(), c.HasIPv6()
	switch {
	case v4 && !v6:
		return []Family{FamilyIPv4}
	case v6 && !v4:
		return []Family{FamilyIPv6}
	}
	return []Family{FamilyIPv4, FamilyIPv6}
}

// ForFamily returns the terms that apply in the given family layer: its own
// address terms plus every family-agnostic term.
func (c Conditions) ForFamily(f Family) []Condition {
	var out []Condition
	for _, item := range c.Items() {
		if fam := item.Family(); fam == 0 || fam == f {
			out = append(out, item)
		}
	}
	return out
}

// records returns the sorted, deduplicated encoded records.
func (c Conditions) records() [][]byte {
	recs := make([][]byte, 0, len(c.items))
	for _, item := range c.items {
		if item.valid() {
			recs = append(recs, item.appendRecord(nil))
		}
	}
	slices.SortFunc(recs, bytes.Compare)

	out := recs[:0]
	for i, r := range recs {
		if i > 0 && bytes.Equal(r, recs[i-1]) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Encode returns the canonical binary form.
func (c Conditions) Encode() []byte {
	var buf []byte
	for _, r := range c.records() {
		buf = append(buf, r...)
	}
	return buf
}

// Equal reports whether both sets match exactly the same terms.
func (c Conditions) Equal(o Conditions) bool {
	return bytes.Equal(c.Encode(), o.Encode())
}

// Hash returns the untagged content digest of the canonical encoding.
func (c Conditions) Hash() Hash {
	return sum(c.Encode())
}

func (c Conditions) String() string {
	items := c.Items()
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.String()
	}
	return strings.Join(parts, " ")
}

// DecodeConditions parses a condition region produced by Encode.
func DecodeConditions(data []byte) (Conditions, error) {
	var c Conditions
	for pos := 0; pos < len(data); {
		cond, next, err := decodeRecord(data, pos)
		if err != nil {
			return Conditions{}, err
		}
		c.items = append(c.items, cond)
		pos = next
	}
	return c, nil
}
