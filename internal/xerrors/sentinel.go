package xerrors

import (
	"errors"
)

// Sentinel errors for the client-side taxonomy.
var (
	// ErrTransient - connection-level failure (network drop, engine unavailable);
	// retried indefinitely with backoff, never fatal.
	ErrTransient = errors.New("transient error")

	// ErrMalformedEvent - an incoming wire event could not be decoded;
	// the event is logged and skipped, stream handling continues.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrNotFound - the engine does not know the referenced run or job.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput - the engine rejected a command payload.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict - command refused because of engine-side state
	// (e.g. kill without a prior stop request).
	ErrConflict = errors.New("conflict")

	// ErrInternal - unexpected engine-side failure.
	ErrInternal = errors.New("internal error")
)
