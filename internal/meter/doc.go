// Package meter reconciles energy meter telemetry into one snapshot and
// publishes it on the host property tree.
//
// The meter reports on two MQTT topics with different shapes:
//
//	instant: {"act_power": 150.0, "voltage": 231.2, "current": 0.65, "freq": 50.0, "pf": 0.98}
//	energy:  {"total_act_energy": 1234.5, "total_act_ret_energy": 12.0}
//
// # Components
//
//   - Store: the snapshot behind a single mutex
//   - Reconciler: validates a payload completely, then applies it atomically
//   - Monitor: startup wait for the first instant message and staleness checks
//   - Publisher: one-second tick writing changed data plus the UpdateIndex heartbeat
//   - Bridge: subscribes both topics and runs the above
//
// # Failure policy
//
// Bad messages (empty, not JSON, missing required field, non-numeric value)
// are logged and dropped without touching the snapshot. Staleness, startup
// timeout and property write failures are returned from Bridge.Run and end
// the process; restart is left to the supervisor.
package meter
