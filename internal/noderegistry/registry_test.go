package noderegistry

import (
	"testing"
	"time"
)

func TestUpsertTelemetry_MirrorsCommandedWhenInactive(t *testing.T) {
	r := New()
	now := time.Now()

	if err := r.UpsertTelemetry("1", 42, 12.0, 100.0, 1200.0, 1, now, false); err != nil {
		t.Fatalf("UpsertTelemetry() error = %v", err)
	}

	ns, ok := r.Get("1")
	if !ok {
		t.Fatal("expected node 1 to exist")
	}
	if ns.Duty != 42 || ns.CommandedDuty != 42 {
		t.Errorf("got duty=%d commanded=%d, want both 42", ns.Duty, ns.CommandedDuty)
	}
	if !ns.Responsive {
		t.Error("expected node to be responsive after telemetry")
	}
	if ns.PollGen != 1 {
		t.Errorf("PollGen = %d, want 1", ns.PollGen)
	}
}

func TestUpsertTelemetry_DoesNotMirrorCommandedWhenActive(t *testing.T) {
	r := New()
	now := time.Now()

	if err := r.SetCommanded("1", 10); err == nil {
		t.Fatal("expected SetCommanded on unknown node to fail")
	}
	_ = r.UpsertTelemetry("1", 10, 12.0, 100.0, 1200.0, 0, now, false)
	if err := r.SetCommanded("1", 10); err != nil {
		t.Fatalf("SetCommanded() error = %v", err)
	}

	if err := r.UpsertTelemetry("1", 90, 12.0, 100.0, 1200.0, 1, now, true); err != nil {
		t.Fatalf("UpsertTelemetry() error = %v", err)
	}

	ns, _ := r.Get("1")
	if ns.Duty != 90 {
		t.Errorf("Duty = %d, want 90", ns.Duty)
	}
	if ns.CommandedDuty != 10 {
		t.Errorf("CommandedDuty = %d, want unchanged 10 while power management active", ns.CommandedDuty)
	}
}

func TestSetTarget_Clamps(t *testing.T) {
	r := New()
	if err := r.SetTarget("2", 150); err != nil {
		t.Fatalf("SetTarget() error = %v", err)
	}
	ns, _ := r.Get("2")
	if ns.TargetDuty != 100 {
		t.Errorf("TargetDuty = %d, want clamped 100", ns.TargetDuty)
	}

	if err := r.SetTarget("2", -5); err != nil {
		t.Fatalf("SetTarget() error = %v", err)
	}
	ns, _ = r.Get("2")
	if ns.TargetDuty != 0 {
		t.Errorf("TargetDuty = %d, want clamped 0", ns.TargetDuty)
	}
}

func TestInvalidNodeID(t *testing.T) {
	r := New()
	if err := r.SetTarget("ALL", 10); err != ErrInvalidNodeID {
		t.Errorf("SetTarget(ALL) error = %v, want ErrInvalidNodeID", err)
	}
	if err := r.UpsertTelemetry("abc", 10, 0, 0, 0, 0, time.Now(), false); err != ErrInvalidNodeID {
		t.Errorf("UpsertTelemetry(abc) error = %v, want ErrInvalidNodeID", err)
	}
}

func TestMarkStaleIfOlderThan(t *testing.T) {
	r := New()
	old := time.Now().Add(-time.Minute)
	recent := time.Now()

	r.UpsertTelemetry("1", 10, 0, 0, 0, 0, old, false)
	r.UpsertTelemetry("2", 10, 0, 0, 0, 0, recent, false)

	transitioned := r.MarkStaleIfOlderThan(45*time.Second, time.Now())
	if len(transitioned) != 1 || transitioned[0] != "1" {
		t.Errorf("transitioned = %v, want [1]", transitioned)
	}

	ns1, _ := r.Get("1")
	ns2, _ := r.Get("2")
	if ns1.Responsive {
		t.Error("node 1 should be marked unresponsive")
	}
	if !ns2.Responsive {
		t.Error("node 2 should remain responsive")
	}

	// Calling again should not re-report node 1 as a fresh transition.
	transitioned = r.MarkStaleIfOlderThan(45*time.Second, time.Now())
	if len(transitioned) != 0 {
		t.Errorf("second call transitioned = %v, want none", transitioned)
	}
}

func TestResponsiveNodes_AscendingAndExcludesStale(t *testing.T) {
	r := New()
	now := time.Now()
	r.UpsertTelemetry("3", 10, 0, 0, 0, 0, now, false)
	r.UpsertTelemetry("1", 10, 0, 0, 0, 0, now, false)
	r.UpsertTelemetry("2", 10, 0, 0, 0, 0, now.Add(-time.Hour), false)

	r.MarkStaleIfOlderThan(45*time.Second, now)

	nodes := r.ResponsiveNodes()
	if len(nodes) != 2 {
		t.Fatalf("got %d responsive nodes, want 2", len(nodes))
	}
	if nodes[0].NodeID != "1" || nodes[1].NodeID != "3" {
		t.Errorf("responsive order = [%s %s], want [1 3]", nodes[0].NodeID, nodes[1].NodeID)
	}
}

func TestAll_IncludesStaleInAscendingOrder(t *testing.T) {
	r := New()
	now := time.Now()
	r.UpsertTelemetry("2", 10, 0, 0, 0, 0, now, false)
	r.UpsertTelemetry("1", 10, 0, 0, 0, 0, now, false)

	nodes := r.All()
	if len(nodes) != 2 || nodes[0].NodeID != "1" || nodes[1].NodeID != "2" {
		t.Errorf("All() = %+v, want ascending [1 2]", nodes)
	}
}
