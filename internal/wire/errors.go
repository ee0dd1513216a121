package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrShortFrame means the input is smaller than the fixed header.
	ErrShortFrame = errors.New("wire: frame shorter than fixed header")

	// ErrBadMagic means the frame does not start with the protocol magic.
	ErrBadMagic = errors.New("wire: bad magic")

	// ErrTruncated means the header declares more extension or payload
	// bytes than the input contains.
	ErrTruncated = errors.New("wire: frame shorter than declared length")

	// ErrFragmentCount means total_fragments is zero or above the
	// per-frame limit.
	ErrFragmentCount = errors.New("wire: fragment count out of range")

	// ErrFragmentIndex means fragment_index is not below total_fragments.
	ErrFragmentIndex = errors.New("wire: fragment index out of range")

	// ErrFragmentMismatch means a fragment declares a different
	// total_fragments than an earlier fragment of the same frame.
	ErrFragmentMismatch = errors.New("wire: fragment count changed mid-frame")
)

// ParseError wraps a decode failure with the frame field being parsed.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wire: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
