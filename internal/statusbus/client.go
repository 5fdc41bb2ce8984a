package statusbus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/justinkk04/ble-gateway/internal/infrastructure/config"
	"github.com/justinkk04/ble-gateway/internal/noderegistry"
	"github.com/justinkk04/ble-gateway/internal/powermanager"
)

// Connection constants.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	defaultReconnectInitial  = 2 * time.Second
	defaultReconnectMax      = 60 * time.Second
	maxQoS                   = 2
	tlsMinVersion            = tls.VersionTLS12
)

// Logger is the narrow logging surface the status bus needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client is a publish-only MQTT status export. It never subscribes: the
// gateway's only command surface is the controller facade.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	logger Logger

	connMu    sync.RWMutex
	connected bool
}

// Connect dials the configured broker and returns a ready Client. The
// connection carries a last-will-and-testament so other subscribers learn
// of an unexpected disconnect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrConnectionFailed
	}

	c := &Client{cfg: cfg, logger: noopLogger{}}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		c.connMu.Lock()
		c.connected = true
		c.connMu.Unlock()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.connMu.Lock()
		c.connected = false
		c.connMu.Unlock()
		c.logger.Warn("statusbus: connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler fires asynchronously; the client is already
	// usable the moment Connect's token resolves successfully.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	if err := c.publish(Topics{}.SystemStatus(), buildOnlinePayload(cfg.Broker.ClientID), byte(cfg.QoS), true); err != nil {
		c.logger.Warn("statusbus: failed to publish online status", "error", err)
	}

	return c, nil
}

// SetLogger overrides the default no-op logger.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	c.logger = l
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(defaultReconnectInitial)
	opts.SetMaxReconnectInterval(defaultReconnectMax)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT sets up a last-will-and-testament publish to the system
// status topic so other subscribers learn of an unexpected disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	payload := fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"unexpected_disconnect"}`,
		clientID,
	)
	opts.SetWill(Topics{}.SystemStatus(), payload, 1, true)
}

func buildOnlinePayload(clientID string) string {
	return fmt.Sprintf(`{"status":"online","client_id":"%s"}`, clientID)
}

func buildOfflinePayload(clientID string) string {
	return fmt.Sprintf(`{"status":"offline","client_id":"%s","reason":"graceful_shutdown"}`, clientID)
}

// Close publishes a graceful-offline status, then disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		if err := c.publish(Topics{}.SystemStatus(), buildOfflinePayload(c.cfg.Broker.ClientID), 1, true); err != nil {
			c.logger.Warn("statusbus: failed to publish offline status", "error", err)
		}
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// HealthCheck returns ErrNotConnected when the Client's last known
// connection state is disconnected.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (c *Client) publish(topic string, payload string, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// nodeStatePayload is the JSON shape published to the per-node state topic.
type nodeStatePayload struct {
	NodeID        string  `json:"node_id"`
	Duty          int     `json:"duty"`
	CommandedDuty int     `json:"commanded_duty"`
	TargetDuty    int     `json:"target_duty"`
	VoltageV      float64 `json:"voltage_v"`
	CurrentMA     float64 `json:"current_ma"`
	PowerMW       float64 `json:"power_mw"`
	Responsive    bool    `json:"responsive"`
}

// NodeUpdated implements powermanager.Sink. It publishes the node's latest
// state, retained, to its per-node state topic. Failures are logged and
// swallowed: the status bus must never block or fail the control loop.
func (c *Client) NodeUpdated(ns noderegistry.NodeState) {
	if !c.IsConnected() {
		return
	}
	payload, err := json.Marshal(nodeStatePayload{
		NodeID:        ns.NodeID,
		Duty:          ns.Duty,
		CommandedDuty: ns.CommandedDuty,
		TargetDuty:    ns.TargetDuty,
		VoltageV:      ns.VoltageV,
		CurrentMA:     ns.CurrentMA,
		PowerMW:       ns.PowerMW,
		Responsive:    ns.Responsive,
	})
	if err != nil {
		c.logger.Warn("statusbus: failed to marshal node state", "node_id", ns.NodeID, "error", err)
		return
	}
	if err := c.publish(Topics{}.NodeState(ns.NodeID), string(payload), byte(c.cfg.QoS), true); err != nil {
		c.logger.Warn("statusbus: failed to publish node state", "node_id", ns.NodeID, "error", err)
	}
}

// NodeAdjusted publishes one duty-nudge event to the node's adjust topic.
func (c *Client) NodeAdjusted(nodeID string, from, to int, reason string) {
	if !c.IsConnected() {
		return
	}
	payload, err := json.Marshal(struct {
		From   int    `json:"from"`
		To     int    `json:"to"`
		Reason string `json:"reason"`
	}{from, to, reason})
	if err != nil {
		return
	}
	if err := c.publish(Topics{}.NodeAdjust(nodeID), string(payload), byte(c.cfg.QoS), false); err != nil {
		c.logger.Warn("statusbus: failed to publish node adjust", "node_id", nodeID, "error", err)
	}
}

// policyStatusPayload is the JSON shape published to the policy status topic.
type policyStatusPayload struct {
	ThresholdSet bool    `json:"threshold_set"`
	ThresholdMW  float64 `json:"threshold_mw"`
	PriorityNode string  `json:"priority_node,omitempty"`
	LoopState    string  `json:"loop_state"`
}

// PublishPolicyStatus publishes the current power policy snapshot, retained.
func (c *Client) PublishPolicyStatus(thresholdSet bool, thresholdMW float64, priorityNode, loopState string) {
	if !c.IsConnected() {
		return
	}
	payload, err := json.Marshal(policyStatusPayload{
		ThresholdSet: thresholdSet,
		ThresholdMW:  thresholdMW,
		PriorityNode: priorityNode,
		LoopState:    loopState,
	})
	if err != nil {
		return
	}
	if err := c.publish(Topics{}.PolicyStatus(), string(payload), byte(c.cfg.QoS), true); err != nil {
		c.logger.Warn("statusbus: failed to publish policy status", "error", err)
	}
}

var _ powermanager.Sink = (*Client)(nil)
