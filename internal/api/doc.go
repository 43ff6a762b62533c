// Package api provides the optional status HTTP server of the meter bridge.
//
// Endpoints:
//
//	GET /api/v1/health    ok, or 503 "degraded" when the broker is down or the meter is stale
//	GET /api/v1/snapshot  the live snapshot, unknown values as null
//	GET /api/v1/status    runtime and bridge statistics
//	GET /metrics          Prometheus exposition
//	GET /ws               WebSocket push of meter.snapshot and meter.cycle events
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
