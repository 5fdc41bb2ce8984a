package statusbus

import "fmt"

// TopicPrefix is the base for every topic this package publishes to.
const TopicPrefix = "meshpowerd"

// Topics provides builders for the gateway's MQTT topics. Using these
// helpers keeps topic naming consistent across publishers.
type Topics struct{}

// NodeState returns the retained topic for a node's latest state.
//
// Example: meshpowerd/node/1/state
func (Topics) NodeState(nodeID string) string {
	return fmt.Sprintf("%s/node/%s/state", TopicPrefix, nodeID)
}

// NodeAdjust returns the topic for one duty-nudge event on a node.
//
// Example: meshpowerd/node/1/adjust
func (Topics) NodeAdjust(nodeID string) string {
	return fmt.Sprintf("%s/node/%s/adjust", TopicPrefix, nodeID)
}

// PolicyStatus returns the retained topic for the current power policy snapshot.
//
// Example: meshpowerd/policy/status
func (Topics) PolicyStatus() string {
	return fmt.Sprintf("%s/policy/status", TopicPrefix)
}

// SystemStatus returns the retained topic for daemon up/down status.
//
// Example: meshpowerd/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", TopicPrefix)
}
