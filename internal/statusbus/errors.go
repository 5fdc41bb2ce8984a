package statusbus

import "errors"

// Domain-specific errors for status bus operations.
var (
	// ErrNotConnected is returned when attempting to publish on a disconnected client.
	ErrNotConnected = errors.New("statusbus: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("statusbus: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("statusbus: publish failed")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("statusbus: topic cannot be empty")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	ErrInvalidQoS = errors.New("statusbus: invalid QoS level (must be 0, 1, or 2)")
)
