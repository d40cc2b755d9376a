package fwdata

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"
	"golang.org/x/sys/unix"
)

var protocolNames = map[string]uint8{
	"icmp":      unix.IPPROTO_ICMP,
	"tcp":       unix.IPPROTO_TCP,
	"udp":       unix.IPPROTO_UDP,
	"gre":       unix.IPPROTO_GRE,
	"esp":       unix.IPPROTO_ESP,
	"ah":        unix.IPPROTO_AH,
	"ipv6-icmp": unix.IPPROTO_ICMPV6,
	"sctp":      unix.IPPROTO_SCTP,
}

// ProtocolName returns the conventional name of an IP protocol number, or
// the number itself.
func ProtocolName(proto uint8) string {
	for name, p := range protocolNames {
		if p == proto {
			return name
		}
	}
	return strconv.Itoa(int(proto))
}

// ParseProtocol accepts a protocol name or number.
func ParseProtocol(s string) (uint8, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if p, ok := protocolNames[s]; ok {
		return p, nil
	}
	if s == "icmpv6" {
		return unix.IPPROTO_ICMPV6, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
	return uint8(n), nil
}

// ParseCondition parses the text form produced by Condition.String:
//
//	addr=192.0.2.7  addr=10.0.0.0/8  addr=10.0.0.1-10.0.0.9
//	port=22  port=8000-8080  proto=tcp
func ParseCondition(s string) (Condition, error) {
	key, value, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok || value == "" {
		return Condition{}, fmt.Errorf("condition %q: want key=value", s)
	}

	switch strings.ToLower(key) {
	case "addr", "address", "ip":
		return parseAddress(value)
	case "port":
		return parsePort(value)
	case "proto", "protocol":
		p, err := ParseProtocol(value)
		if err != nil {
			return Condition{}, err
		}
		return Protocol(p), nil
	}
	return Condition{}, fmt.Errorf("condition %q: unknown key %q", s, key)
}

func parseAddress(value string) (Condition, error) {
	switch {
	case strings.Contains(value, "-"):
		r, err := netipx.ParseIPRange(value)
		if err != nil {
			return Condition{}, err
		}
		return Range(r)
	case strings.Contains(value, "/"):
		p, err := netip.ParsePrefix(value)
		if err != nil {
			return Condition{}, err
		}
		return Prefix(p)
	}
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return Condition{}, err
	}
	return Address(addr), nil
}

func parsePort(value string) (Condition, error) {
	first, last, isRange := strings.Cut(value, "-")
	lo, err := strconv.ParseUint(first, 10, 16)
	if err != nil {
		return Condition{}, fmt.Errorf("invalid port %q", first)
	}
	if !isRange {
		return Port(uint16(lo)), nil
	}
	hi, err := strconv.ParseUint(last, 10, 16)
	if err != nil {
		return Condition{}, fmt.Errorf("invalid port %q", last)
	}
	return PortRange(uint16(lo), uint16(hi))
}

// ParseConditions parses a list of key=value terms.
func ParseConditions(args []string) (Conditions, error) {
	var c Conditions
	for _, arg := range args {
		cond, err := ParseCondition(arg)
		if err != nil {
			return Conditions{}, err
		}
		c.Add(cond)
	}
	return c, nil
}
