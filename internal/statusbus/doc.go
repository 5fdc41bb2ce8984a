// Package statusbus is a thin, optional MQTT status export. It never
// receives commands: the gateway's only command surface is the controller
// facade. Publish failures and disconnects degrade the bus to a no-op sink,
// never the control loop.
package statusbus
