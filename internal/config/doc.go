// Package config loads the startup configuration record consumed once by
// the process entry point: a required listener address and optional
// logger and room-sizing overrides.
//
// Configuration is layered: a JSON file provides the base and command-line
// flags parsed in cmd/roomserver/main.go take final precedence. Only the
// JSON layer is handled here; flag overrides are applied by the caller. No
// field of the record is read from environment variables; the caller
// consults the environment only for the config file path.
//
// A missing Listener section is the one fatal condition in this package:
// the surrounding process should exit if it occurs.
package config
