package fwdata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// maxExpiration is the last instant representable in a rule name.
var maxExpiration = time.Unix(0, math.MaxInt64).UTC()

// ErrNoConditions rejects descriptors that would match all traffic.
var ErrNoConditions = errors.New("rule has no match conditions")

// Descriptor is one filter request: an expiration and the conditions to match.
type Descriptor struct {
	Expiration time.Time
	Conditions Conditions
}

// NewDescriptor builds a descriptor from the given terms.
func NewDescriptor(expiration time.Time, conds ...Condition) *Descriptor {
	return &Descriptor{
		Expiration: expiration,
		Conditions: NewConditions(conds...),
	}
}

// Validate checks that the descriptor can be turned into backend rules.
func (d *Descriptor) Validate() error {
	if d.Conditions.Len() == 0 {
		return ErrNoConditions
	}
	if d.Expiration.IsZero() {
		return errors.New("rule has no expiration")
	}
	if d.Expiration.After(maxExpiration) {
		return fmt.Errorf("expiration %s is beyond %s", d.Expiration.Format(time.RFC3339), maxExpiration.Format(time.RFC3339))
	}
	return nil
}

// Hash returns the untagged content hash.
func (d *Descriptor) Hash() Hash {
	return d.Conditions.Hash()
}

// FamilyHash returns the content hash tagged for one family layer.
func (d *Descriptor) FamilyHash(f Family) Hash {
	return d.Hash().WithFamily(f)
}

// Families returns the family layers this request produces rules in.
func (d *Descriptor) Families() []Family {
	return d.Conditions.Families()
}

// Name returns the backend rule name for one family layer.
func (d *Descriptor) Name(f Family) string {
	return EncodeName(d.Expiration, d.FamilyHash(f))
}

// MarshalBinary writes the expiration record followed by the encoded
// conditions. This is the form carried over the control plane.
func (d *Descriptor) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 1+payloadSize[KindExpiration]+16)
	buf = append(buf, byte(KindExpiration))
	buf = binary.BigEndian.AppendUint64(buf, uint64(d.Expiration.UnixNano()))
	buf = append(buf, d.Conditions.Encode()...)
	return buf, nil
}

// UnmarshalBinary parses the form written by MarshalBinary.
func (d *Descriptor) UnmarshalBinary(data []byte) error {
	head := 1 + payloadSize[KindExpiration]
	if len(data) < head || Kind(data[0]) != KindExpiration {
		return parseErrorf("descriptor does not start with an expiration record")
	}
	conds, err := DecodeConditions(data[head:])
	if err != nil {
		return err
	}
	d.Expiration = time.Unix(0, int64(binary.BigEndian.Uint64(data[1:head]))).UTC()
	d.Conditions = conds
	return nil
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s until %s", d.Conditions, d.Expiration.UTC().Format(time.RFC3339))
}
