// Package fyreerr collects the sentinel errors shared across Fyre's
// packages, so callers can test for a specific failure with errors.Is
// regardless of which layer wrapped it (github.com/pkg/errors.Wrap is
// used throughout for the surrounding context).
package fyreerr

import "github.com/pkg/errors"

var (
	// ErrIOFailure wraps an underlying I/O error from a file or socket
	// operation that the caller can't usefully distinguish further.
	ErrIOFailure = errors.New("fyre: I/O failure")

	// ErrCorruptChunk names a chunk whose CRC doesn't match its
	// declared type and data. No function in this module returns it:
	// package chunkedfile logs and skips such chunks.
	ErrCorruptChunk = errors.New("fyre: corrupt chunk")

	// ErrUnexpectedEnd is returned when a stream ends inside a chunk
	// header or body rather than cleanly at a chunk boundary.
	ErrUnexpectedEnd = errors.New("fyre: unexpected end of stream")

	// ErrUnknownChunkType names a chunk type tag a reader doesn't
	// recognize and has no fallback for. No function in this module
	// returns it.
	ErrUnknownChunkType = errors.New("fyre: unknown chunk type")

	// ErrUnknownProperty is returned when a parameter line or protocol
	// command names a field the holder has no metadata for.
	ErrUnknownProperty = errors.New("fyre: unknown property")

	// ErrBadValue is returned when a value fails to parse, or parses to
	// something out of range for its field.
	ErrBadValue = errors.New("fyre: bad value")

	// ErrNoMetadata is returned when the metadata a requested operation
	// needs is missing (histogram.Imager.LoadMetadata returns it for an
	// empty parameter string).
	ErrNoMetadata = errors.New("fyre: no metadata")

	// ErrProtocolError names a remote protocol violation that isn't
	// better described by one of the above, e.g. a command issued out
	// of turn. No function in this module returns it; remote/client
	// reports an unexpected response through its status callback.
	ErrProtocolError = errors.New("fyre: protocol error")
)
