package fwdata

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the length of a content hash in bytes.
const HashSize = blake2b.Size256

// Hash is the content digest of an encoded condition set. The low bit of
// the last byte carries the family layer of a managed rule: clear for IPv4,
// set for IPv6.
type Hash [HashSize]byte

func sum(data []byte) Hash {
	return blake2b.Sum256(data)
}

// WithFamily returns h tagged for the given family layer.
func (h Hash) WithFamily(f Family) Hash {
	if f == FamilyIPv6 {
		h[HashSize-1] |= 0x01
	} else {
		h[HashSize-1] &^= 0x01
	}
	return h
}

// Family returns the family layer encoded in the tag bit.
func (h Hash) Family() Family {
	if h[HashSize-1]&0x01 != 0 {
		return FamilyIPv6
	}
	return FamilyIPv4
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 bytes in hex, for logs.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:8])
}

// ParseHash parses the hex form produced by String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(b) != HashSize {
		return h, parseErrorf("hash is %d bytes, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}
