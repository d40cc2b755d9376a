package fwdata

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"strings"
	"time"
)

const (
	// NamePrefix starts every rule name this package produces. Rules whose
	// names lack it are foreign.
	NamePrefix = "WDN B64 "

	nameMagic   = "WDN"
	nameVersion = 1
	nameSize    = len(nameMagic) + 1 + 8 + HashSize
)

// EncodeName packs an expiration and a content hash into the text stored
// with the backend rule.
//
// Layout before base64: "WDN" | version | int64 BE Unix ns | hash.
func EncodeName(expiration time.Time, h Hash) string {
	buf := make([]byte, 0, nameSize)
	buf = append(buf, nameMagic...)
	buf = append(buf, nameVersion)
	buf = binary.BigEndian.AppendUint64(buf, uint64(expiration.UnixNano()))
	buf = append(buf, h[:]...)
	return NamePrefix + base64.StdEncoding.EncodeToString(buf)
}

// DecodeName is the inverse of EncodeName. Any other text fails with an
// error wrapping ErrParse.
func DecodeName(name string) (time.Time, Hash, error) {
	var h Hash

	encoded, ok := strings.CutPrefix(name, NamePrefix)
	if !ok {
		return time.Time{}, h, parseErrorf("rule name %q has no %q prefix", name, NamePrefix)
	}
	// The decoder skips line breaks even in strict mode.
	if strings.ContainsAny(encoded, "\r\n") {
		return time.Time{}, h, parseErrorf("rule name %q contains a line break", name)
	}
	raw, err := base64.StdEncoding.Strict().DecodeString(encoded)
	if err != nil {
		return time.Time{}, h, parseErrorf("rule name %q: %v", name, err)
	}
	if len(raw) != nameSize {
		return time.Time{}, h, parseErrorf("rule name %q decodes to %d bytes, want %d", name, len(raw), nameSize)
	}
	if !bytes.Equal(raw[:len(nameMagic)], []byte(nameMagic)) {
		return time.Time{}, h, parseErrorf("rule name %q has bad magic", name)
	}
	raw = raw[len(nameMagic):]
	if raw[0] != nameVersion {
		return time.Time{}, h, parseErrorf("rule name %q has unsupported version %d", name, raw[0])
	}
	ns := int64(binary.BigEndian.Uint64(raw[1:9]))
	copy(h[:], raw[9:])
	return time.Unix(0, ns).UTC(), h, nil
}
