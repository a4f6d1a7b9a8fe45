// Package sdberr defines the sentinel error taxonomy shared by every secdb
// codec and by the Writer/Reader orchestrator.
package sdberr

import "errors"

var (
	// ErrFormat marks a malformed header, wrong tag byte, invalid magic,
	// invalid LEB128, or an overlarge count (e.g. bid+ask > MaxDepth).
	ErrFormat = errors.New("secdb: malformed data")

	// ErrSequence marks a writer API call made in the wrong state.
	ErrSequence = errors.New("secdb: operation not valid in current state")

	// ErrOutOfOrder marks a timestamp strictly less than the last written one.
	ErrOutOfOrder = errors.New("secdb: timestamp out of order")

	// ErrUnsupported marks an unknown file version or a reserved stream
	// kind encountered during read.
	ErrUnsupported = errors.New("secdb: unsupported")

	// ErrTruncated marks EOF reached mid-record on read.
	ErrTruncated = errors.New("secdb: truncated record")

	// ErrAlreadyExists marks an attempt to write a header to a non-empty file.
	ErrAlreadyExists = errors.New("secdb: file already has a header")
)
