package xtree

import "errors"

// Error taxonomy at the boundary of the index. Callers match on these with
// errors.Is; internal code wraps them with %w to preserve context.
var (
	ErrIO               = errors.New("xtree: i/o error")
	ErrCorruptFile      = errors.New("xtree: corrupt file")
	ErrNumericOverflow  = errors.New("xtree: numeric overflow")
	ErrCapacityExceeded = errors.New("xtree: capacity exceeded")
	ErrConfigInvalid    = errors.New("xtree: invalid configuration")
	ErrNotSupported     = errors.New("xtree: operation not supported")
)
