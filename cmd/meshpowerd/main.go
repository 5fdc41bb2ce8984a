// meshpowerd is a host-side gateway for a BLE mesh of DC-load power nodes.
// It discovers the mesh's BLE bridge, decodes its notification stream into
// typed events, tracks per-node state, and — when an operator sets a power
// threshold — runs a closed control loop that nudges node duty cycles to
// keep the mesh's aggregate draw under budget.
//
// For architecture details, see SPEC_FULL.md in the repository root.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/justinkk04/ble-gateway/internal/controller"
	"github.com/justinkk04/ble-gateway/internal/infrastructure/config"
	"github.com/justinkk04/ble-gateway/internal/infrastructure/logging"
	"github.com/justinkk04/ble-gateway/internal/meshbridge"
	"github.com/justinkk04/ble-gateway/internal/noderegistry"
	"github.com/justinkk04/ble-gateway/internal/powermanager"
	"github.com/justinkk04/ble-gateway/internal/sequencer"
	"github.com/justinkk04/ble-gateway/internal/statusbus"
	"github.com/justinkk04/ble-gateway/internal/telemetrystore"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	fmt.Printf("meshpowerd %s (%s) built %s\n", version, commit, date)
	fmt.Println("BLE mesh DC-load power gateway")
	fmt.Println("---")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	if err := run(ctx, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled. Returning an
// error keeps exit-code handling in main.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting meshpowerd", "config", configPath)

	var sinks []powermanager.Sink

	var store *telemetrystore.Store
	if cfg.InfluxDB.Enabled {
		store, err = telemetrystore.Connect(ctx, cfg.InfluxDB, logger)
		if err != nil {
			logger.Warn("telemetry export disabled: connect failed", "error", err)
			store = nil
		} else {
			defer store.Close()
			sinks = append(sinks, store)
			logger.Info("telemetry export connected", "url", cfg.InfluxDB.URL)
		}
	}

	var bus *statusbus.Client
	if cfg.MQTT.Enabled {
		bus, err = statusbus.Connect(cfg.MQTT)
		if err != nil {
			logger.Warn("status bus disabled: connect failed", "error", err)
			bus = nil
		} else {
			bus.SetLogger(logger)
			defer bus.Close()
			sinks = append(sinks, bus)
			logger.Info("status bus connected", "host", cfg.MQTT.Broker.Host)
		}
	}

	dialer := meshbridge.NewBLEDialer()
	bridge := meshbridge.New(dialer, meshbridge.Config{
		NamePrefixes:   cfg.Bridge.NamePrefixes,
		ServiceUUID:    "0000dc01-0000-1000-8000-00805f9b34fb",
		ConnectTimeout: cfg.Bridge.ConnectTimeout(),
		ScanTimeout:    cfg.Bridge.ScanTimeout(),
	}, logger)
	bridge.Start()
	defer bridge.Close()

	addr := cfg.Bridge.Address
	if addr == "" {
		results, err := bridge.Scan(ctx, "")
		if err != nil {
			return fmt.Errorf("scanning for bridge: %w", err)
		}
		if len(results) == 0 {
			return fmt.Errorf("no mesh bridge found matching %v", cfg.Bridge.NamePrefixes)
		}
		addr = results[0].Address
		logger.Info("discovered bridge", "name", results[0].Name, "address", addr)
	}

	if err := bridge.Connect(ctx, addr); err != nil {
		return fmt.Errorf("connecting to bridge %s: %w", addr, err)
	}
	defer bridge.Disconnect(context.Background())

	reg := noderegistry.New()
	reg.SetLogger(logger)

	seq := sequencer.New(bridge, reg, cfg.Policy.ReadStagger(), cfg.Policy.ExpectedNodes)

	tun := powermanager.Tunables{
		PollInterval:     cfg.Policy.PollInterval(),
		ReadStagger:      cfg.Policy.ReadStagger(),
		StaleTimeout:     cfg.Policy.StaleTimeout(),
		Cooldown:         cfg.Policy.Cooldown(),
		HeadroomMW:       cfg.Policy.HeadroomMW,
		PriorityWeight:   cfg.Policy.PriorityWeight,
		DeadbandFraction: cfg.Policy.DeadbandFraction,
		ExpectedNodes:    cfg.Policy.ExpectedNodes,
		BootstrapRetries: cfg.Policy.BootstrapRetries,
		DisableDrain:     2 * time.Second,
	}
	pm := powermanager.New(reg, seq, bridge.Events(), logger, tun, sinks...)
	pm.Start(ctx)
	defer pm.Stop()

	ctrl := controller.New(reg, seq, pm, logger)

	if cfg.Policy.ThresholdMW != nil {
		ctrl.SetThreshold(ctx, *cfg.Policy.ThresholdMW)
		if cfg.Policy.PriorityNode != "" {
			if err := ctrl.SetPriority(cfg.Policy.PriorityNode); err != nil {
				logger.Warn("startup priority rejected", "node_id", cfg.Policy.PriorityNode, "error", err)
			}
		}
	}

	logger.Info("meshpowerd ready")

	<-ctx.Done()
	logger.Info("shutdown signal received, cleaning up")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	ctrl.ClearThreshold(shutdownCtx)

	logger.Info("meshpowerd stopped")
	return nil
}
