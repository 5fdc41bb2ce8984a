package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the mesh power gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Policy   PolicyConfig   `yaml:"policy"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BridgeConfig configures how the gateway finds and connects to the BLE bridge.
type BridgeConfig struct {
	// Address, if set, is matched directly against scan results and
	// overrides name/service-UUID matching.
	Address string `yaml:"address,omitempty"`

	// NamePrefixes are the advertised-name prefixes recognised during scan.
	NamePrefixes []string `yaml:"name_prefixes"`

	ScanTimeoutSeconds    int `yaml:"scan_timeout_seconds"`
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
}

// PolicyConfig carries the default PowerPolicy tunables. The controller
// facade may still override threshold/priority at runtime; these are the
// values in force before any operator intent is received.
type PolicyConfig struct {
	// ThresholdMW is absent (nil) by default: power management starts disabled.
	ThresholdMW *float64 `yaml:"threshold_mw,omitempty"`

	HeadroomMW       float64 `yaml:"headroom_mw"`
	PriorityNode     string  `yaml:"priority_node,omitempty"`
	PriorityWeight   float64 `yaml:"priority_weight"`
	DeadbandFraction float64 `yaml:"deadband_fraction"`

	PollIntervalSeconds float64 `yaml:"poll_interval_seconds"`
	ReadStaggerSeconds  float64 `yaml:"read_stagger_seconds"`
	StaleTimeoutSeconds float64 `yaml:"stale_timeout_seconds"`
	CooldownSeconds     float64 `yaml:"cooldown_seconds"`

	ExpectedNodes     int `yaml:"expected_nodes"`
	BootstrapRetries  int `yaml:"bootstrap_retries"`
}

// MQTTConfig contains the optional status-bus connection settings.
// Enabled defaults to false: the status bus never gates the control loop.
type MQTTConfig struct {
	Enabled bool             `yaml:"enabled"`
	Broker  MQTTBrokerConfig `yaml:"broker"`
	Auth    MQTTAuthConfig   `yaml:"auth"`
	QoS     int              `yaml:"qos"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InfluxDBConfig contains the optional telemetry-export connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MESHPOWERD_SECTION_KEY
// For example: MESHPOWERD_BRIDGE_ADDRESS, MESHPOWERD_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults, matching the
// power-manager tunables in the control loop's own defaults table.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			NamePrefixes:          []string{"Mesh-Gateway", "ESP-BLE-MESH"},
			ScanTimeoutSeconds:    10,
			ConnectTimeoutSeconds: 10,
		},
		Policy: PolicyConfig{
			HeadroomMW:          500,
			PriorityWeight:      2.0,
			DeadbandFraction:    0.05,
			PollIntervalSeconds: 3.0,
			ReadStaggerSeconds:  2.5,
			StaleTimeoutSeconds: 45.0,
			CooldownSeconds:     5.0,
			ExpectedNodes:       2,
			BootstrapRetries:    3,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meshpowerd",
			},
			QoS: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MESHPOWERD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MESHPOWERD_BRIDGE_ADDRESS"); v != "" {
		cfg.Bridge.Address = v
	}

	if v := os.Getenv("MESHPOWERD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MESHPOWERD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MESHPOWERD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("MESHPOWERD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Bridge.NamePrefixes) == 0 && c.Bridge.Address == "" {
		errs = append(errs, "bridge.address or bridge.name_prefixes must be set")
	}

	if c.Policy.HeadroomMW < 0 {
		errs = append(errs, "policy.headroom_mw must not be negative")
	}
	if c.Policy.DeadbandFraction < 0 || c.Policy.DeadbandFraction > 1 {
		errs = append(errs, "policy.deadband_fraction must be between 0 and 1")
	}
	if c.Policy.ExpectedNodes < 1 {
		errs = append(errs, "policy.expected_nodes must be at least 1")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PollInterval returns the configured poll interval as a Duration.
func (p PolicyConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds * float64(time.Second))
}

// ReadStagger returns the configured read stagger as a Duration.
func (p PolicyConfig) ReadStagger() time.Duration {
	return time.Duration(p.ReadStaggerSeconds * float64(time.Second))
}

// StaleTimeout returns the configured stale timeout as a Duration.
func (p PolicyConfig) StaleTimeout() time.Duration {
	return time.Duration(p.StaleTimeoutSeconds * float64(time.Second))
}

// Cooldown returns the configured cooldown as a Duration.
func (p PolicyConfig) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds * float64(time.Second))
}

// ScanTimeout returns the configured scan timeout as a Duration.
func (b BridgeConfig) ScanTimeout() time.Duration {
	return time.Duration(b.ScanTimeoutSeconds) * time.Second
}

// ConnectTimeout returns the configured connect timeout as a Duration.
func (b BridgeConfig) ConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeoutSeconds) * time.Second
}
