package sequencer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/justinkk04/ble-gateway/internal/noderegistry"
)

// Broadcast is the literal wire-level target that fans out to every known
// node. It is never written to the wire.
const Broadcast = "ALL"

// Writer is the single-write-in-flight sink the sequencer serializes onto.
// It is satisfied by the bridge transport.
type Writer interface {
	Write(ctx context.Context, cmd string) error
}

// Registry is the narrow view of the node registry the sequencer needs to
// expand a broadcast.
type Registry interface {
	All() []noderegistry.NodeState
}

// Sequencer serializes outbound node commands with an enforced minimum
// inter-command spacing.
type Sequencer struct {
	writer      Writer
	registry    Registry
	readStagger time.Duration

	// expectedNodes bounds the fallback broadcast range (1..=expectedNodes)
	// used only when the registry has no entries yet.
	expectedNodes int

	mu sync.Mutex
}

// New returns a Sequencer that writes through w, consults reg to expand
// broadcasts, and enforces readStagger between sends.
func New(w Writer, reg Registry, readStagger time.Duration, expectedNodes int) *Sequencer {
	return &Sequencer{
		writer:        w,
		registry:      reg,
		readStagger:   readStagger,
		expectedNodes: expectedNodes,
	}
}

func formatCommand(node, verb string, value *int) string {
	if value != nil {
		return fmt.Sprintf("%s:%s:%d", node, verb, *value)
	}
	return fmt.Sprintf("%s:%s", node, verb)
}

// sendOne writes a single node-targeted command and enforces the stagger
// before returning. Never called with node == Broadcast.
func (s *Sequencer) sendOne(ctx context.Context, node, verb string, value *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Write(ctx, formatCommand(node, verb, value)); err != nil {
		return err
	}

	timer := time.NewTimer(s.readStagger)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sequencer) expandBroadcast() []string {
	nodes := s.registry.All()
	if len(nodes) == 0 {
		ids := make([]string, 0, s.expectedNodes)
		for i := 1; i <= s.expectedNodes; i++ {
			ids = append(ids, strconv.Itoa(i))
		}
		return ids
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.NodeID)
	}
	return ids
}

// Send formats "<node>:<verb>[:<value>]" and writes it through the
// transport. node == Broadcast expands to one send per known node in
// ascending numeric id order (or the configured expected-node range when
// the registry is empty), each observing the full stagger.
func (s *Sequencer) Send(ctx context.Context, node, verb string, value *int) error {
	if node != Broadcast {
		return s.sendOne(ctx, node, verb, value)
	}

	ids := s.expandBroadcast()
	if len(ids) == 0 {
		return ErrNoNodes
	}
	for _, id := range ids {
		if err := s.sendOne(ctx, id, verb, value); err != nil {
			return err
		}
	}
	return nil
}

// SendDuty sends a DUTY command, clamping pct to [0,100]. It reports whether
// clamping occurred so the caller can surface that to the operator once.
func (s *Sequencer) SendDuty(ctx context.Context, node string, pct int) (applied int, clamped bool, err error) {
	applied = pct
	switch {
	case pct < 0:
		applied, clamped = 0, true
	case pct > 100:
		applied, clamped = 100, true
	}
	err = s.Send(ctx, node, "DUTY", &applied)
	return applied, clamped, err
}
