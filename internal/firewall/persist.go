package firewall

import (
	"encoding/json"
	"fmt"
	"time"

	"grimm.is/warden/internal/fwdata"
)

// PersistentBucket is the state store bucket holding persistent rules.
const PersistentBucket = "persistent_rules"

// RuleStore keeps persistent rules across reboots. Entries expire on their
// own once the rule's expiration passes.
type RuleStore interface {
	Save(name string, data []byte, ttl time.Duration) error
	Delete(name string) error
	Load() (map[string][]byte, error)
}

// storedRule is the persisted form of a persistent rule.
type storedRule struct {
	Family     fwdata.Family `json:"family"`
	Conditions []byte        `json:"conditions"`
	Weight     uint64        `json:"weight,omitempty"`
	Permit     bool          `json:"permit,omitempty"`
}

func encodeStoredRule(family fwdata.Family, rule Rule) ([]byte, error) {
	return json.Marshal(storedRule{
		Family:     family,
		Conditions: rule.Conditions.Encode(),
		Weight:     rule.Weight,
		Permit:     rule.Permit,
	})
}

func decodeStoredRule(name string, data []byte) (fwdata.Family, Rule, error) {
	var sr storedRule
	if err := json.Unmarshal(data, &sr); err != nil {
		return 0, Rule{}, fmt.Errorf("failed to decode stored rule: %w", err)
	}
	conds, err := fwdata.DecodeConditions(sr.Conditions)
	if err != nil {
		return 0, Rule{}, err
	}
	if sr.Family != fwdata.FamilyIPv4 && sr.Family != fwdata.FamilyIPv6 {
		return 0, Rule{}, fmt.Errorf("stored rule has invalid family %d", sr.Family)
	}
	return sr.Family, Rule{
		Name:       name,
		Conditions: conds,
		Weight:     sr.Weight,
		Permit:     sr.Permit,
		Persistent: true,
	}, nil
}

// persistTTL is the store lifetime of a rule name: time until its encoded
// expiration, or zero (no expiry) for names that do not decode.
func persistTTL(name string, now time.Time) time.Duration {
	exp, _, err := fwdata.DecodeName(name)
	if err != nil {
		return 0
	}
	return exp.Sub(now)
}
