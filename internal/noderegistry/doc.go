// Package noderegistry holds the last-observed state of every mesh node.
//
// Node identifiers are a small, dense integer domain (the decimal digits
// 1-9), so the registry is keyed by the parsed integer rather than the raw
// string — an arena indexed by node id, not a general string-keyed cache.
// This avoids the pointer webs and deep-copy bookkeeping a persistence-backed
// cache needs, because nothing here is ever written back to disk.
//
// All mutations go through a single exclusive gate. Readers either take the
// gate briefly for a point lookup, or call one of the snapshot methods to get
// a stable, independently-owned view for the duration of one power-manager
// cycle.
package noderegistry
