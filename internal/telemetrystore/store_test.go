package telemetrystore

import (
	"context"
	"errors"
	"testing"

	"github.com/justinkk04/ble-gateway/internal/infrastructure/config"
	"github.com/justinkk04/ble-gateway/internal/noderegistry"
)

func TestConnect_DisabledReturnsError(t *testing.T) {
	cfg := config.InfluxDBConfig{Enabled: false}

	if _, err := Connect(context.Background(), cfg, nil); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestClose_NilClientIsNoop(t *testing.T) {
	s := &Store{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on bare store error = %v, want nil", err)
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	s := &Store{}
	if err := s.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestNodeUpdated_NoopWhenDisconnected(t *testing.T) {
	s := &Store{}
	// Must not panic with a nil writeAPI: NodeUpdated checks IsConnected
	// before ever touching s.writeAPI.
	s.NodeUpdated(noderegistry.NodeState{NodeID: "1", Duty: 40, PowerMW: 4800})
}

func TestFlush_NoopWhenDisconnected(t *testing.T) {
	s := &Store{}
	s.Flush()
}
