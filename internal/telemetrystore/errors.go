package telemetrystore

import "errors"

// Domain-specific errors for telemetry export operations.
var (
	// ErrNotConnected indicates the exporter is not connected to InfluxDB.
	ErrNotConnected = errors.New("telemetrystore: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("telemetrystore: connection failed")

	// ErrDisabled indicates telemetry export is disabled in configuration.
	ErrDisabled = errors.New("telemetrystore: disabled in configuration")
)
