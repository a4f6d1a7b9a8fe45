package secdb

import "secdb/internal/sdberr"

// Error taxonomy re-exported for callers to match with errors.Is. Io errors
// are not wrapped here: the underlying *os.PathError / io error surfaces
// unchanged, since it already carries the preserved errno-equivalent.
var (
	ErrFormat        = sdberr.ErrFormat
	ErrSequence      = sdberr.ErrSequence
	ErrOutOfOrder    = sdberr.ErrOutOfOrder
	ErrUnsupported   = sdberr.ErrUnsupported
	ErrTruncated     = sdberr.ErrTruncated
	ErrAlreadyExists = sdberr.ErrAlreadyExists
)
