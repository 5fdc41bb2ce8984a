package powermanager

import (
	"math"

	"github.com/justinkk04/ble-gateway/internal/noderegistry"
)

// effectiveDuty is the duty used for mW-per-percent estimation and as the
// nudge's "current" baseline: commanded_duty when the manager has already
// commanded something, otherwise the node's last reported duty.
func effectiveDuty(n noderegistry.NodeState) int {
	if n.CommandedDuty > 0 {
		return n.CommandedDuty
	}
	return n.Duty
}

// mwPerPercent estimates node n's milliwatts per duty percent. When n's own
// ratio is undefined (zero duty or zero power), it falls back to the mean
// ratio over every node in all where the ratio is well-defined, and finally
// to a fixed 50 mW/% when no node qualifies.
func mwPerPercent(n noderegistry.NodeState, all []noderegistry.NodeState) float64 {
	d := effectiveDuty(n)
	if d > 0 && n.PowerMW > 0 {
		return n.PowerMW / float64(d)
	}

	var sum float64
	var count int
	for _, m := range all {
		md := effectiveDuty(m)
		if md > 0 && m.PowerMW > 0 {
			sum += m.PowerMW / float64(md)
			count++
		}
	}
	if count == 0 {
		return 50
	}
	return sum / float64(count)
}

// nudge computes the new commanded duty for n given its assigned share in
// mW and its estimated mW-per-percent, clamped to [0, target_duty] (or
// [0,100] when target_duty is 0) and rounded to the nearest integer. It
// reports whether the new value differs from n's current effective duty.
func nudge(n noderegistry.NodeState, shareMW, mwPct float64) (newDuty int, changed bool) {
	ceiling := 100.0
	if n.TargetDuty > 0 {
		ceiling = float64(n.TargetDuty)
	}

	ideal := shareMW / mwPct
	ideal = math.Max(0, math.Min(ideal, ceiling))
	newDuty = int(math.Round(ideal))
	if newDuty < 0 {
		newDuty = 0
	}
	if newDuty > 100 {
		newDuty = 100
	}

	return newDuty, newDuty != effectiveDuty(n)
}

// Assignment is one node's share of the power budget for the current cycle.
type Assignment struct {
	NodeID  string
	ShareMW float64
}

// proportionalShares splits budget evenly across every responsive node.
func proportionalShares(responsive []noderegistry.NodeState, budget float64) []Assignment {
	if len(responsive) == 0 {
		return nil
	}
	share := budget / float64(len(responsive))
	out := make([]Assignment, len(responsive))
	for i, n := range responsive {
		out[i] = Assignment{NodeID: n.NodeID, ShareMW: share}
	}
	return out
}

// priorityShares weights one node's share by priorityWeight against 1.0 for
// every other responsive node, capping the priority node's tentative share
// at the most it could ever draw (target_duty × its mW/% estimate) and
// routing any surplus to the remaining nodes. Falls back to
// proportionalShares if the named node is not present in responsive.
func priorityShares(responsive []noderegistry.NodeState, budget float64, priorityNode string, priorityWeight float64) []Assignment {
	n := len(responsive)
	if n == 0 {
		return nil
	}

	idx := -1
	for i := range responsive {
		if responsive[i].NodeID == priorityNode {
			idx = i
			break
		}
	}
	if idx < 0 {
		return proportionalShares(responsive, budget)
	}
	p := responsive[idx]

	priorityBudget := budget * (priorityWeight / (priorityWeight + float64(n-1)))

	mwPct := mwPerPercent(p, responsive)
	ceiling := 100.0
	if p.TargetDuty > 0 {
		ceiling = float64(p.TargetDuty)
	}
	pMax := ceiling * mwPct
	if pMax < priorityBudget {
		priorityBudget = pMax
	}

	var othersShare float64
	if n > 1 {
		othersShare = (budget - priorityBudget) / float64(n-1)
	}

	out := make([]Assignment, 0, n)
	out = append(out, Assignment{NodeID: p.NodeID, ShareMW: priorityBudget})
	for i, node := range responsive {
		if i == idx {
			continue
		}
		out = append(out, Assignment{NodeID: node.NodeID, ShareMW: othersShare})
	}
	return out
}
