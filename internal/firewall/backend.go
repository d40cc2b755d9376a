package firewall

import (
	"context"
	"errors"
	"fmt"

	"grimm.is/warden/internal/fwdata"
)

// FilterID is the backend-assigned identifier of a live rule.
type FilterID uint64

// Rule is a request to create one backend rule in one family layer.
type Rule struct {
	Name       string
	Conditions fwdata.Conditions
	Weight     uint64
	Permit     bool
	Persistent bool
}

// Backend is the enumerate/create/delete surface of the OS firewall.
type Backend interface {
	// List returns every rule the backend knows about, including rules not
	// created by this program.
	List(ctx context.Context) (map[FilterID]string, error)

	// AddIPv4 creates a rule in the IPv4 layer.
	AddIPv4(ctx context.Context, rule Rule) (FilterID, error)

	// AddIPv6 creates a rule in the IPv6 layer.
	AddIPv6(ctx context.Context, rule Rule) (FilterID, error)

	// Remove deletes a rule by id.
	Remove(ctx context.Context, id FilterID) error
}

// Add dispatches to the family-specific entry point.
func Add(ctx context.Context, b Backend, family fwdata.Family, rule Rule) (FilterID, error) {
	switch family {
	case fwdata.FamilyIPv4:
		return b.AddIPv4(ctx, rule)
	case fwdata.FamilyIPv6:
		return b.AddIPv6(ctx, rule)
	}
	return 0, &BackendError{Op: "add", Err: fmt.Errorf("unsupported family %v", family)}
}

// ErrRuleNotFound is wrapped by Remove when the id is not live.
var ErrRuleNotFound = errors.New("rule not found")

// BackendError describes a failed backend operation.
type BackendError struct {
	Op  string // "list", "add", "remove", "open"
	ID  FilterID
	Err error
}

func (e *BackendError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("firewall %s %d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("firewall %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
