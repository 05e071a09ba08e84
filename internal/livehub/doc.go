// Package livehub tracks open Server-Sent Events connections and writes
// booking events to them.
//
// Connections are registered with routing metadata (role, owner identity,
// correlation id) and removed by the transport when the client goes away.
// Writes are best effort: a failing connection is logged and skipped, never
// removed by the write path. Optional heartbeat-driven eviction removes
// connections whose writes have failed for longer than StaleAfter.
package livehub
