// Package telemetry sets up OpenTelemetry tracing for the server process.
package telemetry
