// Package metrics defines the Recorder hook the fan-out components report
// through and its Prometheus implementation, which also observes Pebble.
package metrics
