package telemetrystore

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/justinkk04/ble-gateway/internal/infrastructure/config"
	"github.com/justinkk04/ble-gateway/internal/noderegistry"
	"github.com/justinkk04/ble-gateway/internal/powermanager"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	millisecondsPerSecond = 1000

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	measurementNodeMetrics = "node_metrics"
)

// Logger is the narrow logging surface the exporter needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store is a write-only InfluxDB exporter. Writes are non-blocking and
// batched by the underlying client; it has no read/query path.
type Store struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig
	logger   Logger

	mu        sync.RWMutex
	connected bool

	done chan struct{}
}

// Connect establishes a connection to InfluxDB, verifies it with a ping,
// and configures the non-blocking batched write API.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, logger Logger) (*Store, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = noopLogger{}
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	pingCtx := ctx
	if pingCtx == nil {
		pingCtx = context.Background()
	}
	pingCtx, cancel := context.WithTimeout(pingCtx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	s := &Store{
		client:    client,
		writeAPI:  writeAPI,
		cfg:       cfg,
		logger:    logger,
		connected: true,
		done:      make(chan struct{}),
	}

	go s.handleWriteErrors(writeAPI.Errors())

	return s, nil
}

func (s *Store) handleWriteErrors(errorsCh <-chan error) {
	for {
		select {
		case <-s.done:
			return
		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			s.logger.Warn("telemetrystore: async write failed", "error", err)
		}
	}
}

// Close flushes pending writes, stops the error-handling goroutine, and
// closes the underlying client.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.writeAPI.Flush()
	if s.done != nil {
		close(s.done)
	}
	s.client.Close()

	return nil
}

// IsConnected returns the last known connection state.
func (s *Store) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// HealthCheck actively pings the InfluxDB server.
func (s *Store) HealthCheck(ctx context.Context) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := s.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("telemetrystore: health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("telemetrystore: health check failed: server not healthy")
	}
	return nil
}

// Flush forces all pending writes to be sent. Safe to call after Close.
func (s *Store) Flush() {
	if s.writeAPI == nil || !s.IsConnected() {
		return
	}
	s.writeAPI.Flush()
}

// NodeUpdated implements powermanager.Sink. It writes one node_metrics point
// per call, tagged by node_id, with fields duty, voltage, current_ma,
// power_mw, commanded_duty. Writes are fire-and-forget: the control loop
// never waits on InfluxDB.
func (s *Store) NodeUpdated(ns noderegistry.NodeState) {
	if !s.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementNodeMetrics,
		map[string]string{
			"node_id": ns.NodeID,
		},
		map[string]interface{}{
			"duty":           ns.Duty,
			"voltage":        ns.VoltageV,
			"current_ma":     ns.CurrentMA,
			"power_mw":       ns.PowerMW,
			"commanded_duty": ns.CommandedDuty,
		},
		time.Now(),
	)

	s.writeAPI.WritePoint(point)
}

// NodeAdjusted implements powermanager.Sink. Duty nudges carry no numeric
// measurement of their own, so the store has nothing to write.
func (s *Store) NodeAdjusted(string, int, int, string) {}

// PublishPolicyStatus implements powermanager.Sink. Policy state is not a
// timeseries the store exports.
func (s *Store) PublishPolicyStatus(bool, float64, string, string) {}

var _ powermanager.Sink = (*Store)(nil)
