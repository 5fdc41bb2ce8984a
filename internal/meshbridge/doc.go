// Package meshbridge owns the BLE link to the mesh gateway device: scan,
// connect, subscribe, write, and disconnect.
//
// The underlying radio library delivers GATT notifications on its own
// callback goroutine, not the caller's. Collapsing the radio session into a
// short-lived worker silently stops notification delivery after the first
// operation completes, because the library's signal dispatch needs a loop
// that outlives any individual call. Bridge therefore pins a single,
// long-lived goroutine that owns the live Session for its entire lifetime;
// every other goroutine submits work to it through a task channel and waits
// on a per-call reply channel, the same shape as submitting a closure to a
// dedicated event loop.
//
// Notification bytes arrive on the radio library's own callback thread and
// are handed off through a small bounded queue to a single ordered consumer
// goroutine, which feeds them through the frame codec and posts decoded
// events to a channel the rest of the system reads from. A single consumer
// is required, not a worker pool: chunk reassembly depends on notifications
// being processed in arrival order, unlike independent protocol telegrams
// that can be fanned out to any free worker.
package meshbridge
