package controller

import (
	"context"
	"testing"
	"time"

	"github.com/justinkk04/ble-gateway/internal/noderegistry"
	"github.com/justinkk04/ble-gateway/internal/powermanager"
	"github.com/justinkk04/ble-gateway/internal/sequencer"
)

type fakeSeq struct {
	sent []string
}

func (f *fakeSeq) Send(_ context.Context, node, verb string, value *int) error {
	if value != nil {
		f.sent = append(f.sent, node+":"+verb)
	} else {
		f.sent = append(f.sent, node+":"+verb)
	}
	return nil
}

func (f *fakeSeq) SendDuty(_ context.Context, node string, pct int) (int, bool, error) {
	applied := pct
	clamped := false
	if pct > 100 {
		applied, clamped = 100, true
	}
	f.sent = append(f.sent, node+":DUTY")
	return applied, clamped, nil
}

type fakePM struct {
	thresholdMW  float64
	active       bool
	priority     string
	shares       []powermanager.Assignment
	setCalls     int
	disableCalls int
	headroomMW   float64
}

func (f *fakePM) SetThreshold(_ context.Context, mw float64) {
	f.thresholdMW = mw
	f.active = true
	f.setCalls++
}
func (f *fakePM) Disable(_ context.Context) {
	f.active = false
	f.disableCalls++
}
func (f *fakePM) SetPriority(node string) { f.priority = node }
func (f *fakePM) ClearPriority()          { f.priority = "" }
func (f *fakePM) ThresholdMW() (float64, bool) {
	return f.thresholdMW, f.active
}
func (f *fakePM) PriorityNode() (string, bool) { return f.priority, f.priority != "" }
func (f *fakePM) Shares() []powermanager.Assignment { return f.shares }
func (f *fakePM) State() powermanager.State { return powermanager.Off }
func (f *fakePM) HeadroomMW() float64 { return f.headroomMW }

func TestSetTargetDuty_Broadcast(t *testing.T) {
	reg := noderegistry.New()
	_ = reg.SetTarget("1", 0)
	_ = reg.SetTarget("2", 0)
	seq := &fakeSeq{}
	c := New(reg, seq, &fakePM{}, nil)

	if err := c.SetTargetDuty(context.Background(), sequencer.Broadcast, 150); err != nil {
		t.Fatalf("SetTargetDuty() error = %v", err)
	}

	for _, id := range []string{"1", "2"} {
		ns, _ := reg.Get(id)
		if ns.TargetDuty != 100 {
			t.Errorf("node %s target = %d, want 100 (clamped)", id, ns.TargetDuty)
		}
	}
	if len(seq.sent) != 1 || seq.sent[0] != sequencer.Broadcast+":DUTY" {
		t.Errorf("sent = %v", seq.sent)
	}
}

func TestSetTargetDuty_InvalidNode(t *testing.T) {
	reg := noderegistry.New()
	c := New(reg, &fakeSeq{}, &fakePM{}, nil)

	if err := c.SetTargetDuty(context.Background(), "not-a-node", 50); err != noderegistry.ErrInvalidNodeID {
		t.Errorf("err = %v, want ErrInvalidNodeID", err)
	}
}

func TestStop_ClearsMonitoringFlag(t *testing.T) {
	reg := noderegistry.New()
	seq := &fakeSeq{}
	c := New(reg, seq, &fakePM{}, nil)

	_ = c.Monitor(context.Background(), "1")
	if !c.monitoring["1"] {
		t.Fatal("monitoring flag not set")
	}
	_ = c.Stop(context.Background(), "1")
	if c.monitoring["1"] {
		t.Error("monitoring flag still set after Stop")
	}
}

func TestSetPriority_RequiresThreshold(t *testing.T) {
	c := New(noderegistry.New(), &fakeSeq{}, &fakePM{}, nil)
	if err := c.SetPriority("1"); err != ErrPriorityBeforeThreshold {
		t.Errorf("err = %v, want ErrPriorityBeforeThreshold", err)
	}

	pm := &fakePM{active: true, thresholdMW: 4000}
	c2 := New(noderegistry.New(), &fakeSeq{}, pm, nil)
	if err := c2.SetPriority("1"); err != nil {
		t.Fatalf("SetPriority() error = %v", err)
	}
	if pm.priority != "1" {
		t.Errorf("priority = %q, want 1", pm.priority)
	}
}

func TestStatus_ReflectsThresholdAndShares(t *testing.T) {
	reg := noderegistry.New()
	_ = reg.UpsertTelemetry("1", 40, 12, 500, 4800, 0, time.Now(), true)
	pm := &fakePM{
		active: true, thresholdMW: 4000, headroomMW: 800,
		shares: []powermanager.Assignment{{NodeID: "1", ShareMW: 3500}},
	}
	c := New(reg, &fakeSeq{}, pm, nil)

	status := c.Status()
	if !status.ThresholdSet || status.ThresholdMW != 4000 {
		t.Errorf("status = %+v", status)
	}
	if status.BudgetMW != 3200 {
		t.Errorf("budget = %v, want 3200 (threshold - configured headroom)", status.BudgetMW)
	}
	if len(status.Nodes) != 1 || status.Nodes[0].ShareMW != 3500 {
		t.Errorf("node status = %+v", status.Nodes)
	}
	if status.String() == "" {
		t.Error("String() returned empty")
	}
}
