package noderegistry

import "errors"

var (
	// ErrInvalidNodeID is returned when a node identifier is not a
	// non-negative decimal integer.
	ErrInvalidNodeID = errors.New("noderegistry: invalid node id")

	// ErrNodeNotFound is returned by operations that require an existing
	// entry (set_commanded) when no telemetry or target has ever been
	// recorded for that node.
	ErrNodeNotFound = errors.New("noderegistry: node not found")
)
