package fwdata

import (
	"errors"
	"fmt"
)

// ErrParse marks bytes or names that were not produced by this package.
// Callers treat such rules as foreign.
var ErrParse = errors.New("parse error")

func parseErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}
