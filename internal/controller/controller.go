package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/justinkk04/ble-gateway/internal/noderegistry"
	"github.com/justinkk04/ble-gateway/internal/powermanager"
	"github.com/justinkk04/ble-gateway/internal/sequencer"
)

// Logger is the narrow logging surface the controller needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Registry is the narrow view of the node registry the controller needs.
type Registry interface {
	SetTarget(nodeID string, duty int) error
	Get(nodeID string) (noderegistry.NodeState, bool)
	All() []noderegistry.NodeState
}

// Sequencer is the narrow view of the command sequencer the controller
// needs.
type Sequencer interface {
	Send(ctx context.Context, node, verb string, value *int) error
	SendDuty(ctx context.Context, node string, pct int) (applied int, clamped bool, err error)
}

// PowerManager is the narrow view of the power manager the controller
// drives.
type PowerManager interface {
	SetThreshold(ctx context.Context, thresholdMW float64)
	Disable(ctx context.Context)
	SetPriority(node string)
	ClearPriority()
	ThresholdMW() (float64, bool)
	PriorityNode() (string, bool)
	Shares() []powermanager.Assignment
	State() powermanager.State
	HeadroomMW() float64
}

// Controller is the operator-facing facade.
type Controller struct {
	reg    Registry
	seq    Sequencer
	pm     PowerManager
	logger Logger

	mu         sync.Mutex
	monitoring map[string]bool
}

// New returns a Controller wired to reg, seq, and pm.
func New(reg Registry, seq Sequencer, pm PowerManager, logger Logger) *Controller {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Controller{
		reg:        reg,
		seq:        seq,
		pm:         pm,
		logger:     logger,
		monitoring: make(map[string]bool),
	}
}

// SetTargetDuty updates target_duty for node (or every known node when node
// is the broadcast target) and sends the duty command through the
// sequencer, which expands ALL on the wire and clamps the value to
// [0,100]. A clamp is reported to the operator here, once, at the facade.
func (c *Controller) SetTargetDuty(ctx context.Context, node string, pct int) error {
	if node == sequencer.Broadcast {
		for _, n := range c.reg.All() {
			if err := c.reg.SetTarget(n.NodeID, pct); err != nil {
				return err
			}
		}
	} else if err := c.reg.SetTarget(node, pct); err != nil {
		return err
	}

	applied, clamped, err := c.seq.SendDuty(ctx, node, pct)
	if err != nil {
		return err
	}
	if clamped {
		c.logger.Warn("target duty clamped", "node", node, "requested", pct, "applied", applied)
	}
	return nil
}

// Ramp sends the one-shot RAMP verb to node.
func (c *Controller) Ramp(ctx context.Context, node string) error {
	return c.seq.Send(ctx, node, "RAMP", nil)
}

// Stop sends the one-shot STOP verb to node and clears its monitoring flag.
func (c *Controller) Stop(ctx context.Context, node string) error {
	c.mu.Lock()
	delete(c.monitoring, node)
	c.mu.Unlock()
	return c.seq.Send(ctx, node, "STOP", nil)
}

// Read sends the one-shot READ verb to node.
func (c *Controller) Read(ctx context.Context, node string) error {
	return c.seq.Send(ctx, node, "READ", nil)
}

// ReadStatus sends the one-shot STATUS verb to node.
func (c *Controller) ReadStatus(ctx context.Context, node string) error {
	return c.seq.Send(ctx, node, "STATUS", nil)
}

// Monitor sends the one-shot MONITOR verb to node and sets its monitoring
// flag.
func (c *Controller) Monitor(ctx context.Context, node string) error {
	c.mu.Lock()
	c.monitoring[node] = true
	c.mu.Unlock()
	return c.seq.Send(ctx, node, "MONITOR", nil)
}

// SetThreshold activates power management at thresholdMW.
func (c *Controller) SetThreshold(ctx context.Context, thresholdMW float64) {
	c.pm.SetThreshold(ctx, thresholdMW)
}

// ClearThreshold runs the power manager's disable sequence and stops the
// loop.
func (c *Controller) ClearThreshold(ctx context.Context) {
	c.pm.Disable(ctx)
}

// SetPriority assigns the priority node. Returns ErrPriorityBeforeThreshold
// if no threshold is currently active.
func (c *Controller) SetPriority(node string) error {
	if _, ok := c.pm.ThresholdMW(); !ok {
		return ErrPriorityBeforeThreshold
	}
	c.pm.SetPriority(node)
	return nil
}

// ClearPriority reverts to the proportional policy.
func (c *Controller) ClearPriority() {
	c.pm.ClearPriority()
}

// NodeStatus is one node's line in a Status snapshot.
type NodeStatus struct {
	NodeID        string
	Duty          int
	CommandedDuty int
	TargetDuty    int
	VoltageV      float64
	CurrentMA     float64
	PowerMW       float64
	Responsive    bool
	ShareMW       float64
}

// Status is a human-readable snapshot of the controller's current policy
// and per-node state.
type Status struct {
	ThresholdSet bool
	ThresholdMW  float64
	BudgetMW     float64
	PriorityNode string
	LoopState    string
	Nodes        []NodeStatus
}

// Status returns a snapshot suitable for display to the operator.
func (c *Controller) Status() Status {
	threshold, active := c.pm.ThresholdMW()
	priority, _ := c.pm.PriorityNode()

	shares := make(map[string]float64)
	for _, a := range c.pm.Shares() {
		shares[a.NodeID] = a.ShareMW
	}

	nodes := make([]NodeStatus, 0, len(c.reg.All()))
	for _, n := range c.reg.All() {
		nodes = append(nodes, NodeStatus{
			NodeID:        n.NodeID,
			Duty:          n.Duty,
			CommandedDuty: n.CommandedDuty,
			TargetDuty:    n.TargetDuty,
			VoltageV:      n.VoltageV,
			CurrentMA:     n.CurrentMA,
			PowerMW:       n.PowerMW,
			Responsive:    n.Responsive,
			ShareMW:       shares[n.NodeID],
		})
	}

	var budget float64
	if active {
		budget = threshold - c.pm.HeadroomMW()
	}

	return Status{
		ThresholdSet: active,
		ThresholdMW:  threshold,
		BudgetMW:     budget,
		PriorityNode: priority,
		LoopState:    c.pm.State().String(),
		Nodes:        nodes,
	}
}

// String renders s as the multi-line text the operator sees.
func (s Status) String() string {
	out := "threshold: "
	if s.ThresholdSet {
		out += fmt.Sprintf("%.0f mW (budget %.0f mW)\n", s.ThresholdMW, s.BudgetMW)
	} else {
		out += "none\n"
	}
	if s.PriorityNode != "" {
		out += fmt.Sprintf("priority: node %s\n", s.PriorityNode)
	}
	out += fmt.Sprintf("loop: %s\n", s.LoopState)
	for _, n := range s.Nodes {
		out += fmt.Sprintf("  node %s: duty=%d commanded=%d target=%d power=%.0fmW share=%.0fmW responsive=%v\n",
			n.NodeID, n.Duty, n.CommandedDuty, n.TargetDuty, n.PowerMW, n.ShareMW, n.Responsive)
	}
	return out
}
