package sequencer

import "errors"

// ErrNoNodes is returned when a broadcast is requested but the registry is
// empty and no fallback expected-node range was configured.
var ErrNoNodes = errors.New("sequencer: no nodes to expand broadcast to")
