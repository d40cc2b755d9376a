package rules

import "errors"

var (
	// ErrCapacity rejects a new rule when the index is full.
	ErrCapacity = errors.New("rule capacity reached")

	// ErrDuplicate classifies stale and near-duplicate requests in logs and
	// the journal. It is never returned.
	ErrDuplicate = errors.New("duplicate rule")

	// ErrNotManaged is returned when removing a rule this program did not create.
	ErrNotManaged = errors.New("rule is not managed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("rule manager closed")
)
