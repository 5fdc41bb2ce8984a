// Package powermanager implements the equilibrium duty-cycle controller: a
// periodic poll → wait-for-responses → staleness sweep → evaluate-and-adjust
// cycle that keeps the mesh's aggregate power near an operator-chosen
// budget.
//
// Manager owns no radio state directly; it drives the sequencer and reads
// the node registry. Two goroutines run for the lifetime of a Manager: an
// event pump that drains decoded mesh events into the registry (and, while a
// poll cycle is in flight, suppresses protocol-error noise), and the cycle
// loop itself, which only runs while a power threshold is set. The loop
// checks at every suspension point whether the threshold has been cleared or
// its context cancelled, and exits on either. Disable clears the threshold,
// waits for the loop to exit, and then restores every node's commanded duty
// to its target.
//
// The per-node share math (mwPerPercent, proportional and priority
// policies) is implemented as pure functions over NodeState snapshots in
// policy.go so it can be tested without any goroutines or timers.
package powermanager
