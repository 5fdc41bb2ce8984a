package meshbridge

import "errors"

// ErrNotConnected is returned by Write when no session is active.
// Disconnect without an active session is a no-op and returns nil.
var ErrNotConnected = errors.New("meshbridge: not connected")

// ErrWriteFailed wraps a write-characteristic failure from the underlying
// radio session.
var ErrWriteFailed = errors.New("meshbridge: write failed")

// ErrDisconnected names a session that dropped without a caller-initiated
// Disconnect. No Bridge method returns it: Bridge does not detect such a
// drop, and nothing is posted on the event stream when one happens.
var ErrDisconnected = errors.New("meshbridge: session disconnected")

// ErrClosed is returned when an operation is submitted after Close.
var ErrClosed = errors.New("meshbridge: bridge closed")

// ErrNoAddress is returned by Connect when called with an empty address.
var ErrNoAddress = errors.New("meshbridge: no address to connect to")
