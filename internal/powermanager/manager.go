package powermanager

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/justinkk04/ble-gateway/internal/meshcodec"
	"github.com/justinkk04/ble-gateway/internal/noderegistry"
)

// State is a coarse label for what the cycle loop is currently doing.
// Exposed for status reporting only; nothing branches on it internally
// except the facade's status() call.
type State int

const (
	Off State = iota
	Bootstrapping
	Polling
	Waiting
	Adjusting
	Cooling
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case Polling:
		return "polling"
	case Waiting:
		return "waiting"
	case Adjusting:
		return "adjusting"
	case Cooling:
		return "cooling"
	default:
		return "off"
	}
}

// Logger is the narrow logging surface the manager needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sequencer is the narrow view of the command sequencer the manager needs.
type Sequencer interface {
	Send(ctx context.Context, node, verb string, value *int) error
	SendDuty(ctx context.Context, node string, pct int) (applied int, clamped bool, err error)
}

// Registry is the narrow view of the node registry the manager needs.
type Registry interface {
	UpsertTelemetry(nodeID string, duty int, voltageV, currentMA, powerMW float64, pollGen int, now time.Time, powerManagementActive bool) error
	SetTarget(nodeID string, duty int) error
	SetCommanded(nodeID string, duty int) error
	MarkStaleIfOlderThan(staleTimeout time.Duration, now time.Time) []string
	Get(nodeID string) (noderegistry.NodeState, bool)
	ResponsiveNodes() []noderegistry.NodeState
	All() []noderegistry.NodeState
}

// Sink receives a best-effort copy of node state, duty adjustments, and
// policy changes. Implementations must never block; a slow or absent sink
// must not affect the control loop.
type Sink interface {
	NodeUpdated(ns noderegistry.NodeState)
	NodeAdjusted(nodeID string, from, to int, reason string)
	PublishPolicyStatus(thresholdSet bool, thresholdMW float64, priorityNode, loopState string)
}

// Tunables are the PowerPolicy knobs from spec.md §4.5 / §3.
type Tunables struct {
	PollInterval     time.Duration
	ReadStagger      time.Duration
	StaleTimeout     time.Duration
	Cooldown         time.Duration
	HeadroomMW       float64
	PriorityWeight   float64
	DeadbandFraction float64
	ExpectedNodes    int
	BootstrapRetries int

	// DisableDrain is how long Disable waits for in-flight traffic before
	// restoring target duties. 2s in production; overridable for tests.
	DisableDrain time.Duration
}

// Manager is the equilibrium duty-cycle controller.
type Manager struct {
	reg    Registry
	seq    Sequencer
	events <-chan meshcodec.Event
	logger Logger
	tun    Tunables
	sinks  []Sink

	mu           sync.Mutex
	thresholdMW  *float64
	priorityNode string
	lastAdjust   time.Time
	pollGen      int
	state        State
	inPoll       bool

	loopCancel context.CancelFunc
	loopDone   chan struct{}
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

// New returns a Manager with power management inactive.
func New(reg Registry, seq Sequencer, events <-chan meshcodec.Event, logger Logger, tun Tunables, sinks ...Sink) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		reg:    reg,
		seq:    seq,
		events: events,
		logger: logger,
		tun:    tun,
		sinks:  sinks,
	}
}

// Start launches the event pump, which runs for the lifetime of ctx
// regardless of whether a threshold is ever set.
func (m *Manager) Start(ctx context.Context) {
	pumpCtx, cancel := context.WithCancel(ctx)
	m.pumpCancel = cancel
	m.pumpDone = make(chan struct{})
	go m.eventPump(pumpCtx)
}

// Stop halts the event pump and, if a threshold is active, the cycle loop.
func (m *Manager) Stop() {
	if m.pumpCancel != nil {
		m.pumpCancel()
		<-m.pumpDone
	}
	m.stopLoop()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// State returns the loop's current coarse state, for status reporting.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) publish(ns noderegistry.NodeState) {
	for _, s := range m.sinks {
		s.NodeUpdated(ns)
	}
}

func (m *Manager) publishAdjust(nodeID string, from, to int, reason string) {
	for _, s := range m.sinks {
		s.NodeAdjusted(nodeID, from, to, reason)
	}
}

// publishPolicyStatus snapshots the current threshold, priority, and loop
// state and fans it out to every sink. Called on every policy change so
// the status bus's retained policy topic never goes stale.
func (m *Manager) publishPolicyStatus() {
	threshold, active := m.ThresholdMW()
	priority, _ := m.PriorityNode()
	state := m.State()
	for _, s := range m.sinks {
		s.PublishPolicyStatus(active, threshold, priority, state.String())
	}
}

// HeadroomMW returns the configured safety margin subtracted from the
// threshold to get the enforced budget.
func (m *Manager) HeadroomMW() float64 {
	return m.tun.HeadroomMW
}

// eventPump drains decoded mesh events into the registry for as long as ctx
// is alive. Protocol-error events are logged at warn level normally, but
// suppressed to debug while a poll cycle is in flight, since the next cycle
// retries automatically.
func (m *Manager) eventPump(ctx context.Context) {
	defer close(m.pumpDone)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		}
	}
}

func (m *Manager) handleEvent(ev meshcodec.Event) {
	switch ev.Kind {
	case meshcodec.Telemetry:
		m.mu.Lock()
		gen := m.pollGen
		active := m.thresholdMW != nil
		m.mu.Unlock()

		if err := m.reg.UpsertTelemetry(ev.NodeID, ev.Duty, ev.VoltageV, ev.CurrentMA, ev.PowerMW, gen, time.Now(), active); err != nil {
			m.logger.Warn("telemetry for invalid node id", "node_id", ev.NodeID, "error", err)
			return
		}
		if ns, ok := m.reg.Get(ev.NodeID); ok {
			m.publish(ns)
		}
	case meshcodec.Error, meshcodec.Timeout:
		m.mu.Lock()
		suppress := m.inPoll
		m.mu.Unlock()
		if suppress {
			m.logger.Debug("protocol event during poll cycle", "kind", ev.Kind, "payload", ev.Payload)
		} else {
			m.logger.Warn("protocol event", "kind", ev.Kind, "payload", ev.Payload)
		}
	}
}

// SetThreshold activates power management at thresholdMW. Nodes with no
// explicit target_duty but a nonzero observed duty have that duty snapshotted
// as their target. The cooldown is cleared so the next cycle evaluates
// immediately, and the loop is started if it is not already running.
func (m *Manager) SetThreshold(ctx context.Context, thresholdMW float64) {
	m.mu.Lock()
	alreadyActive := m.thresholdMW != nil
	m.thresholdMW = &thresholdMW
	m.lastAdjust = time.Time{}
	m.mu.Unlock()

	for _, n := range m.reg.All() {
		if n.TargetDuty == 0 && n.Duty > 0 {
			_ = m.reg.SetTarget(n.NodeID, n.Duty)
		}
	}

	if !alreadyActive {
		m.startLoop(ctx)
	}

	m.publishPolicyStatus()
}

// SetPriority assigns the priority node. Unknown node ids are accepted, per
// the documented source behavior, and take effect once the node is
// discovered.
func (m *Manager) SetPriority(node string) {
	m.mu.Lock()
	m.priorityNode = node
	m.lastAdjust = time.Time{}
	m.mu.Unlock()

	m.publishPolicyStatus()
}

// ClearPriority reverts to the proportional policy.
func (m *Manager) ClearPriority() {
	m.mu.Lock()
	m.priorityNode = ""
	m.mu.Unlock()

	m.publishPolicyStatus()
}

// ThresholdMW returns the active threshold and whether one is set.
func (m *Manager) ThresholdMW() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.thresholdMW == nil {
		return 0, false
	}
	return *m.thresholdMW, true
}

// PriorityNode returns the configured priority node, if any.
func (m *Manager) PriorityNode() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priorityNode, m.priorityNode != ""
}

func (m *Manager) startLoop(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.loopCancel = cancel
	m.loopDone = make(chan struct{})
	go m.runLoop(loopCtx)
}

func (m *Manager) stopLoop() {
	if m.loopCancel == nil {
		return
	}
	m.loopCancel()
	<-m.loopDone
	m.loopCancel = nil
}

func (m *Manager) active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholdMW != nil
}

// runLoop is the 8-step cycle from spec.md §4.5. It exits as soon as the
// threshold is cleared.
func (m *Manager) runLoop(ctx context.Context) {
	defer close(m.loopDone)
	defer m.setState(Off)

	m.setState(Bootstrapping)
	m.bootstrap(ctx)

	for m.active() {
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.pollGen++
		gen := m.pollGen
		m.mu.Unlock()

		m.setState(Polling)
		if !m.poll(ctx, gen) {
			return
		}

		m.setState(Waiting)
		m.mu.Lock()
		m.inPoll = true
		m.mu.Unlock()
		caughtUp := m.waitForResponses(ctx, gen)
		m.mu.Lock()
		m.inPoll = false
		m.mu.Unlock()
		if !caughtUp {
			return
		}

		m.reg.MarkStaleIfOlderThan(m.tun.StaleTimeout, time.Now())

		if !sleepCtx(ctx, time.Second) {
			return
		}

		m.setState(Adjusting)
		m.evaluateAndAdjust(ctx)

		m.setState(Cooling)
		if !sleepCtx(ctx, m.tun.PollInterval) {
			return
		}
	}
}

// bootstrap probes every id in 1..=expected_nodes not yet in the registry.
func (m *Manager) bootstrap(ctx context.Context) {
	known := make(map[string]bool)
	for _, n := range m.reg.All() {
		known[n.NodeID] = true
	}

	for i := 1; i <= m.tun.ExpectedNodes; i++ {
		id := strconv.Itoa(i)
		if known[id] {
			continue
		}
		for attempt := 0; attempt < m.tun.BootstrapRetries; attempt++ {
			if !m.active() || ctx.Err() != nil {
				return
			}
			if _, ok := m.reg.Get(id); ok {
				break
			}
			if err := m.seq.Send(ctx, id, "READ", nil); err != nil {
				m.logger.Debug("bootstrap read failed", "node_id", id, "error", err)
			}
		}
	}
}

// poll sends READ to every digit-identified entry in ascending order. The
// sequencer enforces spacing between sends.
func (m *Manager) poll(ctx context.Context, gen int) bool {
	m.mu.Lock()
	m.inPoll = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inPoll = false
		m.mu.Unlock()
	}()

	for _, n := range m.reg.All() {
		if !m.active() || ctx.Err() != nil {
			return false
		}
		if err := m.seq.Send(ctx, n.NodeID, "READ", nil); err != nil {
			m.logger.Debug("poll read failed", "node_id", n.NodeID, "error", err, "poll_gen", gen)
		}
	}
	return true
}

// waitForResponses polls the registry every 100ms, up to 4s, until every
// currently-responsive node's poll_gen matches gen.
func (m *Manager) waitForResponses(ctx context.Context, gen int) bool {
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		if !m.active() || ctx.Err() != nil {
			return false
		}
		if allCaughtUp(m.reg.ResponsiveNodes(), gen) {
			return true
		}
		if !sleepCtx(ctx, 100*time.Millisecond) {
			return false
		}
	}
	return m.active() && ctx.Err() == nil
}

func allCaughtUp(nodes []noderegistry.NodeState, gen int) bool {
	for _, n := range nodes {
		if n.PollGen != gen {
			return false
		}
	}
	return true
}

// evaluateAndAdjust is the equilibrium step from spec.md §4.5.
func (m *Manager) evaluateAndAdjust(ctx context.Context) {
	m.mu.Lock()
	threshold := m.thresholdMW
	lastAdjust := m.lastAdjust
	priorityNode := m.priorityNode
	m.mu.Unlock()

	if threshold == nil {
		return
	}
	if time.Since(lastAdjust) < m.tun.Cooldown {
		return
	}

	budget := *threshold - m.tun.HeadroomMW
	if budget <= 0 {
		return
	}

	responsive := m.reg.ResponsiveNodes()
	if len(responsive) == 0 {
		return
	}

	var total float64
	for _, n := range responsive {
		total += n.PowerMW
	}

	if math.Abs(total-budget) < budget*m.tun.DeadbandFraction {
		return
	}

	if total <= budget {
		nothingToRaise := true
		for _, n := range responsive {
			if n.TargetDuty != 0 && n.CommandedDuty < n.TargetDuty {
				nothingToRaise = false
				break
			}
		}
		if nothingToRaise {
			return
		}
	}

	var assignments []Assignment
	reason := "proportional"
	if priorityNode != "" && containsNode(responsive, priorityNode) {
		assignments = priorityShares(responsive, budget, priorityNode, m.tun.PriorityWeight)
		reason = "priority"
	} else {
		assignments = proportionalShares(responsive, budget)
	}

	for _, a := range assignments {
		n, ok := m.reg.Get(a.NodeID)
		if !ok {
			continue
		}
		mwPct := mwPerPercent(n, responsive)
		newDuty, changed := nudge(n, a.ShareMW, mwPct)
		if !changed {
			continue
		}
		applied, clamped, err := m.seq.SendDuty(ctx, a.NodeID, newDuty)
		if err != nil {
			m.logger.Warn("adjust send failed", "node_id", a.NodeID, "error", err)
			continue
		}
		if clamped {
			m.logger.Warn("adjust duty clamped", "node_id", a.NodeID, "requested", newDuty, "applied", applied)
		}
		from := n.CommandedDuty
		if err := m.reg.SetCommanded(a.NodeID, applied); err != nil {
			m.logger.Warn("set commanded failed", "node_id", a.NodeID, "error", err)
			continue
		}
		m.publishAdjust(a.NodeID, from, applied, reason)
		if ns, ok := m.reg.Get(a.NodeID); ok {
			m.publish(ns)
		}
	}

	m.mu.Lock()
	m.lastAdjust = time.Now()
	m.mu.Unlock()
}

// Shares recomputes the current per-node budget split without sending
// anything, for status reporting. Returns nil if no threshold is active or
// the budget is non-positive.
func (m *Manager) Shares() []Assignment {
	m.mu.Lock()
	threshold := m.thresholdMW
	priorityNode := m.priorityNode
	m.mu.Unlock()

	if threshold == nil {
		return nil
	}
	budget := *threshold - m.tun.HeadroomMW
	if budget <= 0 {
		return nil
	}

	responsive := m.reg.ResponsiveNodes()
	if priorityNode != "" && containsNode(responsive, priorityNode) {
		return priorityShares(responsive, budget, priorityNode, m.tun.PriorityWeight)
	}
	return proportionalShares(responsive, budget)
}

func containsNode(nodes []noderegistry.NodeState, id string) bool {
	for _, n := range nodes {
		if n.NodeID == id {
			return true
		}
	}
	return false
}

// Disable clears the threshold, waits out in-flight traffic, restores every
// node whose commanded_duty differs from its target_duty, and finally zeroes
// every commanded_duty. Matches spec.md §4.5 disable().
func (m *Manager) Disable(ctx context.Context) {
	m.mu.Lock()
	m.thresholdMW = nil
	m.mu.Unlock()

	m.stopLoop()

	drain := m.tun.DisableDrain
	if drain == 0 {
		drain = 2 * time.Second
	}
	if !sleepCtx(ctx, drain) {
		return
	}

	for _, n := range m.reg.All() {
		if n.TargetDuty > 0 && n.CommandedDuty != n.TargetDuty {
			if _, _, err := m.seq.SendDuty(ctx, n.NodeID, n.TargetDuty); err != nil {
				m.logger.Warn("disable restore send failed", "node_id", n.NodeID, "error", err)
				continue
			}
			_ = m.reg.SetCommanded(n.NodeID, n.TargetDuty)
		}
	}

	for _, n := range m.reg.All() {
		_ = m.reg.SetCommanded(n.NodeID, 0)
	}

	m.publishPolicyStatus()
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
