// Package sequencer serializes outbound mesh commands with an enforced
// minimum inter-command spacing.
//
// The mesh's radio round-trip cannot sustain back-to-back writes; every send
// must be followed by a "read_stagger" gap before the next one is attempted.
// Sequencer.Send holds an exclusive lock for the duration of one write plus
// its stagger, so at most one write is ever in flight and no two writes are
// closer together than read_stagger, even when callers arrive concurrently.
//
// Sending to the broadcast target "ALL" expands to one send per known node,
// in ascending numeric id order; the literal "ALL" is never written to the
// wire.
package sequencer
