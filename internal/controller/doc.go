// Package controller is the operator-facing facade: it accepts intents
// (set a target duty, set or clear a power threshold, set or clear
// priority, one-shot verbs), mutates registry and policy state, and
// dispatches the resulting radio work through the command sequencer. It is
// the only caller of the power manager's threshold/priority mutators, so it
// is where the "priority before threshold" policy error is enforced.
package controller
