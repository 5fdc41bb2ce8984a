// Package telemetrystore is a thin, optional write-only InfluxDB exporter.
// It has no query path and backs no table the operator reads from: it only
// mirrors node updates (each telemetry upsert and each applied duty nudge)
// into a time series for later inspection, and its absence never blocks the
// control loop.
package telemetrystore
