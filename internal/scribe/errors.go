package scribe

import "errors"

// Sentinel errors matching the taxonomy in spec.md §7. Wrapped with
// fmt.Errorf("...: %w", ...) at the call site so callers can
// errors.Is against them while still getting a descriptive message.
var (
	// ErrInvalidSequenceGap is fatal for the document: an op sequence gap
	// was observed with no Pending Message Reader configured to heal it.
	ErrInvalidSequenceGap = errors.New("invalid sequence gap")

	// ErrProtocolViolation wraps an error returned by the Protocol
	// Handler's ProcessMessage; the document must be marked corrupt.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrClosed is returned by Handle once the Lambda has been Closed.
	ErrClosed = errors.New("scribe lambda is closed")
)
