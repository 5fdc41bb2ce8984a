package powermanager

import (
	"math"
	"testing"

	"github.com/justinkk04/ble-gateway/internal/noderegistry"
)

func node(id string, duty, commanded, target int, powerMW float64) noderegistry.NodeState {
	return noderegistry.NodeState{
		NodeID: id, Duty: duty, CommandedDuty: commanded, TargetDuty: target,
		PowerMW: powerMW, Responsive: true,
	}
}

func TestMWPerPercent_OwnRatio(t *testing.T) {
	n := node("1", 100, 100, 100, 5000)
	if got := mwPerPercent(n, []noderegistry.NodeState{n}); got != 50 {
		t.Errorf("mwPerPercent() = %v, want 50", got)
	}
}

func TestMWPerPercent_FallsBackToMeanOfOthers(t *testing.T) {
	n := node("1", 0, 0, 100, 0)
	others := []noderegistry.NodeState{
		n,
		node("2", 50, 50, 100, 2000), // 40 mW/%
		node("3", 100, 100, 100, 4000),
	}
	got := mwPerPercent(n, others)
	want := (40.0 + 40.0) / 2
	if math.Abs(got-want) > 0.001 {
		t.Errorf("mwPerPercent() = %v, want %v", got, want)
	}
}

func TestMWPerPercent_ConstantFallback(t *testing.T) {
	n := node("1", 0, 0, 100, 0)
	if got := mwPerPercent(n, []noderegistry.NodeState{n}); got != 50 {
		t.Errorf("mwPerPercent() = %v, want 50", got)
	}
}

// TestProportionalReduction covers spec scenario S1.
func TestProportionalReduction(t *testing.T) {
	n1 := node("1", 100, 100, 100, 5000)
	n2 := node("2", 100, 100, 100, 5000)
	responsive := []noderegistry.NodeState{n1, n2}
	budget := 3500.0

	assignments := proportionalShares(responsive, budget)
	if len(assignments) != 2 || assignments[0].ShareMW != 1750 || assignments[1].ShareMW != 1750 {
		t.Fatalf("assignments = %+v, want 1750/1750", assignments)
	}

	for i, a := range assignments {
		mwPct := mwPerPercent(responsive[i], responsive)
		newDuty, changed := nudge(responsive[i], a.ShareMW, mwPct)
		if newDuty != 35 || !changed {
			t.Errorf("node %s: newDuty=%d changed=%v, want 35 true", a.NodeID, newDuty, changed)
		}
	}
}

// TestPriorityPreservation covers spec scenario S2.
func TestPriorityPreservation(t *testing.T) {
	n1 := node("1", 100, 100, 100, 5000)
	n2 := node("2", 100, 100, 100, 5000)
	responsive := []noderegistry.NodeState{n1, n2}
	budget := 3500.0

	assignments := priorityShares(responsive, budget, "1", 2.0)
	if len(assignments) != 2 {
		t.Fatalf("got %d assignments, want 2", len(assignments))
	}
	if math.Abs(assignments[0].ShareMW-2333.33) > 0.5 {
		t.Errorf("N1 share = %v, want ~2333.33", assignments[0].ShareMW)
	}
	if math.Abs(assignments[1].ShareMW-1166.67) > 0.5 {
		t.Errorf("N2 share = %v, want ~1166.67", assignments[1].ShareMW)
	}

	d1, _ := nudge(n1, assignments[0].ShareMW, mwPerPercent(n1, responsive))
	d2, _ := nudge(n2, assignments[1].ShareMW, mwPerPercent(n2, responsive))
	if d1 != 47 {
		t.Errorf("N1 newDuty = %d, want 47", d1)
	}
	if d2 != 23 {
		t.Errorf("N2 newDuty = %d, want 23", d2)
	}
}

// TestPriorityCannotAbsorbShare covers spec scenario S3: a priority node
// whose target duty caps it below its tentative weighted share routes the
// surplus to the other nodes. N1's target (30%, 50 mW/%) caps its maximum
// draw at 1500 mW, below the 2333.33 mW tentative share the weighting alone
// would assign it.
func TestPriorityCannotAbsorbShare(t *testing.T) {
	n1 := node("1", 30, 30, 30, 1500)
	n2 := node("2", 40, 40, 100, 2000)
	responsive := []noderegistry.NodeState{n1, n2}
	budget := 3500.0

	assignments := priorityShares(responsive, budget, "1", 2.0)
	if assignments[0].ShareMW != 1500 {
		t.Errorf("N1 share = %v, want 1500 (capped)", assignments[0].ShareMW)
	}
	if assignments[1].ShareMW != 2000 {
		t.Errorf("N2 share = %v, want 2000 (surplus)", assignments[1].ShareMW)
	}

	d1, changed1 := nudge(n1, assignments[0].ShareMW, mwPerPercent(n1, responsive))
	d2, changed2 := nudge(n2, assignments[1].ShareMW, mwPerPercent(n2, responsive))
	if d1 != 30 || changed1 {
		t.Errorf("N1: newDuty=%d changed=%v, want 30 false (already at cap)", d1, changed1)
	}
	if d2 != 40 || changed2 {
		t.Errorf("N2: newDuty=%d changed=%v, want 40 false (already at share)", d2, changed2)
	}
}

func TestPriorityShares_FallsBackWhenNodeAbsent(t *testing.T) {
	n1 := node("1", 100, 100, 100, 5000)
	n2 := node("2", 100, 100, 100, 5000)
	responsive := []noderegistry.NodeState{n1, n2}

	got := priorityShares(responsive, 3500, "9", 2.0)
	want := proportionalShares(responsive, 3500)
	if len(got) != len(want) || got[0].ShareMW != want[0].ShareMW {
		t.Errorf("priorityShares() with absent node = %+v, want fallback %+v", got, want)
	}
}

func TestNudge_NeverExceedsTargetDuty(t *testing.T) {
	n := node("1", 50, 50, 60, 2500)
	newDuty, _ := nudge(n, 100000, mwPerPercent(n, []noderegistry.NodeState{n}))
	if newDuty > n.TargetDuty {
		t.Errorf("newDuty = %d, exceeds target_duty %d", newDuty, n.TargetDuty)
	}
}

func TestNudge_NoChangeWhenAlreadyAtTarget(t *testing.T) {
	n := node("1", 35, 35, 100, 1750)
	newDuty, changed := nudge(n, 1750, 50)
	if changed || newDuty != 35 {
		t.Errorf("newDuty=%d changed=%v, want 35 false", newDuty, changed)
	}
}
