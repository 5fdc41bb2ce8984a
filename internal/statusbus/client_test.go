package statusbus

import (
	"errors"
	"strings"
	"testing"

	"github.com/justinkk04/ble-gateway/internal/infrastructure/config"
	"github.com/justinkk04/ble-gateway/internal/noderegistry"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "meshpowerd-test",
		},
		QoS: 1,
	}
}

func TestConnect_DisabledReturnsError(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_NilClientIsNoop(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on bare client error = %v, want nil", err)
	}
}

func TestPublish_NotConnectedReturnsError(t *testing.T) {
	c := &Client{cfg: testConfig(), logger: noopLogger{}}

	if err := c.publish(Topics{}.SystemStatus(), "{}", 1, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublish_RejectsEmptyTopic(t *testing.T) {
	c := &Client{cfg: testConfig(), logger: noopLogger{}}
	c.connected = true

	if err := c.publish("", "{}", 1, true); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("publish() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublish_RejectsInvalidQoS(t *testing.T) {
	c := &Client{cfg: testConfig(), logger: noopLogger{}}
	c.connected = true

	if err := c.publish(Topics{}.SystemStatus(), "{}", 3, true); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("publish() error = %v, want ErrInvalidQoS", err)
	}
}

func TestNodeUpdated_NoopWhenDisconnected(t *testing.T) {
	c := &Client{cfg: testConfig(), logger: noopLogger{}}

	// Must not panic with a nil underlying paho client: NodeUpdated checks
	// IsConnected before ever touching c.client.
	c.NodeUpdated(noderegistry.NodeState{NodeID: "1", Duty: 40})
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{cfg: testConfig(), logger: noopLogger{}}
	if err := c.HealthCheck(nil); !errors.Is(err, ErrNotConnected) { //nolint:staticcheck
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestBuildOnlineOfflinePayloads(t *testing.T) {
	online := buildOnlinePayload("meshpowerd-test")
	if !strings.Contains(online, `"status":"online"`) {
		t.Errorf("online payload = %q, missing online status", online)
	}
	offline := buildOfflinePayload("meshpowerd-test")
	if !strings.Contains(offline, `"status":"offline"`) {
		t.Errorf("offline payload = %q, missing offline status", offline)
	}
}

func TestBuildClientOptions_UsesTLSScheme(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	opts := buildClientOptions(cfg)
	servers := opts.Servers
	if len(servers) != 1 || !strings.HasPrefix(servers[0].String(), "ssl://") {
		t.Errorf("Servers = %v, want one ssl:// broker", servers)
	}
}
