// Package meshcodec reassembles chunked BLE notifications into whole lines
// and classifies each line into a typed event.
//
// The bridge splits any notification longer than one BLE packet into several
// chunks: every non-final chunk is prefixed with '+', the final chunk is not.
// Codec.Feed accumulates '+' chunks in a per-link buffer and classifies the
// buffer once the final chunk arrives. It holds no timers and never drops a
// line it cannot classify — unrecognised text comes back as an Unclassified
// event rather than being discarded.
//
// A Codec is not safe for concurrent use; it is owned by the single goroutine
// that reads notifications off one BLE link.
package meshcodec
