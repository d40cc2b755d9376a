package fwdata

import (
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go4.org/netipx"
)

func mustCond(t *testing.T, s string) Condition {
	t.Helper()
	c, err := ParseCondition(s)
	require.NoError(t, err, s)
	return c
}

func TestConditions_EncodeDecode(t *testing.T) {
	conds := NewConditions(
		mustCond(t, "addr=203.0.113.5"),
		mustCond(t, "addr=10.0.0.0/8"),
		mustCond(t, "addr=192.0.2.10-192.0.2.20"),
		mustCond(t, "addr=2001:db8::1"),
		mustCond(t, "addr=2001:db8::/32"),
		mustCond(t, "addr=2001:db8::1-2001:db8::ff"),
		mustCond(t, "port=22"),
		mustCond(t, "port=8000-8080"),
		mustCond(t, "proto=tcp"),
	)

	encoded := conds.Encode()
	decoded, err := DecodeConditions(encoded)
	require.NoError(t, err)

	assert.True(t, conds.Equal(decoded))
	assert.Equal(t, encoded, decoded.Encode())
	assert.Equal(t, 9, decoded.Len())
	assert.Equal(t, conds.String(), decoded.String())
}

func TestConditions_RecordSizes(t *testing.T) {
	cases := []struct {
		cond string
		size int
	}{
		{"addr=198.51.100.1", 1 + 4},
		{"addr=198.51.100.0/24", 1 + 4 + 1},
		{"addr=198.51.100.1-198.51.100.9", 1 + 4 + 4},
		{"addr=2001:db8::1", 1 + 16},
		{"addr=2001:db8::/48", 1 + 16 + 1},
		{"addr=2001:db8::1-2001:db8::2", 1 + 16 + 16},
		{"port=443", 1 + 2},
		{"port=1-1024", 1 + 2 + 2},
		{"proto=udp", 1 + 1},
	}
	for _, tc := range cases {
		enc := NewConditions(mustCond(t, tc.cond)).Encode()
		assert.Len(t, enc, tc.size, tc.cond)
	}

	enc := NewConditions(Port(0x1234)).Encode()
	assert.Equal(t, []byte{byte(KindPort), 0x12, 0x34}, enc, "ports are big-endian")
}

func TestConditions_OrderIndependentHash(t *testing.T) {
	a := NewConditions(mustCond(t, "addr=192.0.2.1"), mustCond(t, "port=22"), mustCond(t, "proto=tcp"))
	b := NewConditions(mustCond(t, "proto=tcp"), mustCond(t, "addr=192.0.2.1"), mustCond(t, "port=22"))
	c := NewConditions(mustCond(t, "port=22"), mustCond(t, "proto=tcp"), mustCond(t, "addr=192.0.2.1"), mustCond(t, "port=22"))

	assert.Equal(t, a.Encode(), b.Encode())
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, a.Hash(), c.Hash(), "duplicate terms do not change the hash")

	d := NewConditions(mustCond(t, "addr=192.0.2.2"), mustCond(t, "port=22"), mustCond(t, "proto=tcp"))
	assert.NotEqual(t, a.Hash(), d.Hash())
}

func TestConditions_Canonicalization(t *testing.T) {
	host := mustCond(t, "addr=192.0.2.1")
	assert.Equal(t, host, mustCond(t, "addr=192.0.2.1/32"))
	assert.Equal(t, host, mustCond(t, "addr=::ffff:192.0.2.1"))
	assert.Equal(t, host, mustCond(t, "addr=192.0.2.1-192.0.2.1"))

	mapped := mustCond(t, "addr=::ffff:10.0.0.0/104")
	assert.Equal(t, KindIPv4Prefix, mapped.Kind)
	assert.Equal(t, 8, mapped.Bits)

	masked := mustCond(t, "addr=10.1.2.3/8")
	assert.Equal(t, netip.MustParseAddr("10.0.0.0"), masked.Addr)

	assert.Equal(t, Port(80), mustCond(t, "port=80-80"))
}

func TestConditions_Families(t *testing.T) {
	v4 := NewConditions(mustCond(t, "addr=192.0.2.1"), mustCond(t, "port=22"))
	assert.True(t, v4.HasIPv4())
	assert.False(t, v4.HasIPv6())
	assert.Equal(t, []Family{FamilyIPv4}, v4.Families())

	v6 := NewConditions(mustCond(t, "addr=2001:db8::/64"))
	assert.Equal(t, []Family{FamilyIPv6}, v6.Families())

	agnostic := NewConditions(mustCond(t, "port=22"), mustCond(t, "proto=tcp"))
	assert.False(t, agnostic.HasIPv4())
	assert.False(t, agnostic.HasIPv6())
	assert.Equal(t, []Family{FamilyIPv4, FamilyIPv6}, agnostic.Families())

	mixed := NewConditions(mustCond(t, "addr=192.0.2.1"), mustCond(t, "addr=2001:db8::1"), mustCond(t, "port=22"))
	assert.Equal(t, []Family{FamilyIPv4, FamilyIPv6}, mixed.Families())
	assert.Len(t, mixed.ForFamily(FamilyIPv4), 2)
	for _, c := range mixed.ForFamily(FamilyIPv6) {
		assert.NotEqual(t, FamilyIPv4, c.Family())
	}
}

func TestDecodeConditions_Errors(t *testing.T) {
	cases := map[string][]byte{
		"unknown tag":        {0x42, 1, 2, 3},
		"expiration inside":  {byte(KindExpiration), 0, 0, 0, 0, 0, 0, 0, 1},
		"truncated address":  {byte(KindIPv4), 192, 0, 2},
		"truncated port":     {byte(KindPort), 0},
		"prefix too long":    {byte(KindIPv4Prefix), 10, 0, 0, 0, 33},
		"inverted range":     {byte(KindIPv4Range), 10, 0, 0, 9, 10, 0, 0, 1},
		"inverted portrange": {byte(KindPortRange), 0, 9, 0, 1},
	}
	for name, data := range cases {
		_, err := DecodeConditions(data)
		assert.ErrorIs(t, err, ErrParse, name)
	}

	empty, err := DecodeConditions(nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestDecodeConditions_Canonicalizes(t *testing.T) {
	cases := []struct {
		name   string
		record []byte
		want   string
	}{
		{"unmasked prefix", []byte{byte(KindIPv4Prefix), 192, 0, 2, 77, 24}, "addr=192.0.2.0/24"},
		{"full-length prefix", []byte{byte(KindIPv4Prefix), 192, 0, 2, 77, 32}, "addr=192.0.2.77"},
		{"single-address range", []byte{byte(KindIPv4Range), 192, 0, 2, 9, 192, 0, 2, 9}, "addr=192.0.2.9"},
		{"single-port range", []byte{byte(KindPortRange), 0, 22, 0, 22}, "port=22"},
		{"mapped address", append([]byte{byte(KindIPv6)}, netip.MustParseAddr("::ffff:192.0.2.1").AsSlice()...), "addr=192.0.2.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := DecodeConditions(tc.record)
			require.NoError(t, err)

			want := NewConditions(mustCond(t, tc.want))
			assert.Equal(t, want.Hash(), decoded.Hash())
			assert.Equal(t, want.Encode(), decoded.Encode())
		})
	}
}

func TestConditions_DropsInvalidTerms(t *testing.T) {
	c := NewConditions(Condition{}, Condition{Kind: KindIPv4, Addr: netip.MustParseAddr("2001:db8::1")}, Port(22))
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.HasIPv6())
}

func TestParseCondition_Errors(t *testing.T) {
	for _, s := range []string{
		"", "addr", "addr=", "addr=not-an-ip", "addr=10.0.0.9-10.0.0.1",
		"port=70000", "port=9-1", "proto=bogus", "color=blue",
	} {
		_, err := ParseCondition(s)
		assert.Error(t, err, s)
	}

	_, err := Range(netipx.IPRangeFrom(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("2001:db8::1")))
	assert.Error(t, err, "mixed family range")
}

func TestProtocolNames(t *testing.T) {
	p, err := ParseProtocol("TCP")
	require.NoError(t, err)
	assert.Equal(t, uint8(6), p)
	assert.Equal(t, "tcp", ProtocolName(6))
	assert.Equal(t, "250", ProtocolName(250))

	p, err = ParseProtocol("132")
	require.NoError(t, err)
	assert.Equal(t, "sctp", ProtocolName(p))
}

func TestHash_FamilyTag(t *testing.T) {
	h := NewConditions(Port(22)).Hash()

	v4 := h.WithFamily(FamilyIPv4)
	v6 := h.WithFamily(FamilyIPv6)

	assert.NotEqual(t, v4, v6)
	assert.Equal(t, FamilyIPv4, v4.Family())
	assert.Equal(t, FamilyIPv6, v6.Family())
	assert.Equal(t, v4[:HashSize-1], v6[:HashSize-1], "only the last byte differs")
	assert.Equal(t, v4[HashSize-1]|1, v6[HashSize-1])
	assert.Equal(t, v6, v6.WithFamily(FamilyIPv6))

	parsed, err := ParseHash(v6.String())
	require.NoError(t, err)
	assert.Equal(t, v6, parsed)

	_, err = ParseHash("abcd")
	assert.ErrorIs(t, err, ErrParse)
}

func TestName_RoundTrip(t *testing.T) {
	exp := time.Date(2031, 3, 4, 5, 6, 7, 891011, time.UTC)
	h := NewConditions(mustCond(t, "addr=198.51.100.7")).Hash().WithFamily(FamilyIPv4)

	name := EncodeName(exp, h)
	assert.Contains(t, name, NamePrefix)

	gotExp, gotHash, err := DecodeName(name)
	require.NoError(t, err)
	assert.True(t, exp.Equal(gotExp))
	assert.Equal(t, h, gotHash)

	// Pre-epoch and far-future expirations survive the int64 encoding.
	for _, e := range []time.Time{time.Unix(0, -5).UTC(), time.Unix(1<<33, 0).UTC()} {
		got, _, err := DecodeName(EncodeName(e, h))
		require.NoError(t, err)
		assert.True(t, e.Equal(got))
	}
}

func TestDecodeName_Foreign(t *testing.T) {
	valid := EncodeName(time.Unix(1700000000, 0), Hash{})
	body := valid[len(NamePrefix):]

	// Setting an unused low bit of the last data character before the padding
	// still decodes to the same bytes under the lenient decoder.
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	require.True(t, strings.HasSuffix(body, "="))
	last := len(strings.TrimRight(body, "=")) - 1
	require.Zero(t, strings.IndexByte(alphabet, body[last])&1)
	padBits := body[:last] + string(alphabet[strings.IndexByte(alphabet, body[last])|1]) + body[last+1:]

	for _, name := range []string{
		"",
		"sshguard block",
		"F2B B64 " + body,
		NamePrefix + "!!!not base64",
		NamePrefix + body[:len(body)-4],
		NamePrefix + "WERO" + body[4:],
		NamePrefix + body[:10] + "\n" + body[10:],
		NamePrefix + body[:10] + "\r\n" + body[10:],
		NamePrefix + padBits,
	} {
		_, _, err := DecodeName(name)
		assert.ErrorIs(t, err, ErrParse, name)
	}
}

func TestDescriptor(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDescriptor(exp, mustCond(t, "addr=203.0.113.5/32"))
	require.NoError(t, d.Validate())

	assert.Equal(t, []Family{FamilyIPv4}, d.Families())

	gotExp, gotHash, err := DecodeName(d.Name(FamilyIPv4))
	require.NoError(t, err)
	assert.True(t, exp.Equal(gotExp))
	assert.Equal(t, d.FamilyHash(FamilyIPv4), gotHash)

	wire, err := d.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, byte(KindExpiration), wire[0])

	var back Descriptor
	require.NoError(t, back.UnmarshalBinary(wire))
	assert.True(t, exp.Equal(back.Expiration))
	assert.Equal(t, d.Hash(), back.Hash())

	assert.ErrorIs(t, back.UnmarshalBinary(wire[1:]), ErrParse)
	assert.True(t, errors.Is(NewDescriptor(exp).Validate(), ErrNoConditions))
}
