package gnss

import "github.com/pkg/errors"

// The error kinds the driver reports. Everything returned from this
// package is one of these (or wraps one of these), so callers can sort
// outcomes with errors.Is.
var (
	// ErrNotInitialized means Init has not been called (or Deinit has).
	ErrNotInitialized = errors.New("driver not initialised")

	// ErrInvalidParameter covers out-of-range module or transport types,
	// mismatched transport handles, dead session handles and bad values
	// passed to setters.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrTransportInUse means another session already owns the given
	// transport handle.
	ErrTransportInUse = errors.New("transport already has a session")

	// ErrOutOfResources means an allocation or lock could not be created.
	ErrOutOfResources = errors.New("out of resources")

	// ErrPlatform wraps a failure reported by a GPIO or transport
	// primitive underneath us.
	ErrPlatform = errors.New("platform error")

	// ErrTimeout means no matching response arrived within the session's
	// response timeout.
	ErrTimeout = errors.New("timed out waiting for response")

	// ErrMalformedResponse means framing or checksum validation failed,
	// or a response body did not have the shape it must.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrNacked means the receiver explicitly rejected the message.
	ErrNacked = errors.New("message nacked by receiver")

	// ErrBusy means a background position task is already running for
	// the session.
	ErrBusy = errors.New("position task already running")
)
