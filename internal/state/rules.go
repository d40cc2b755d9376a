package state

import (
	"errors"
	"time"
)

// RuleStore exposes one bucket as the persistent rule store used by the
// firewall backend.
type RuleStore struct {
	store  *SQLiteStore
	bucket string
}

// NewRuleStore returns a RuleStore over bucket, creating it if needed.
func NewRuleStore(store *SQLiteStore, bucket string) (*RuleStore, error) {
	if err := store.EnsureBucket(bucket); err != nil {
		return nil, err
	}
	return &RuleStore{store: store, bucket: bucket}, nil
}

// Save stores a rule. ttl is the time until the rule expires.
func (r *RuleStore) Save(name string, data []byte, ttl time.Duration) error {
	return r.store.SetWithTTL(r.bucket, name, data, ttl)
}

// Delete removes a rule. Deleting an unknown rule is not an error.
func (r *RuleStore) Delete(name string) error {
	if err := r.store.Delete(r.bucket, name); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Load returns every unexpired rule.
func (r *RuleStore) Load() (map[string][]byte, error) {
	return r.store.List(r.bucket)
}
