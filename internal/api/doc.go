// Package api serves the page transport and the operational HTTP surface.
//
// Pages obtain a token from POST /api/v1/pages and open a WebSocket at
// /api/v1/ws?token=... . Each inbound frame becomes a bridge Transaction;
// replies and device events are written back on the same socket. Closing
// the socket tears the page down in the engine.
//
// The remaining routes are read-only views for operators: health, engine
// status, granted devices, and Prometheus metrics.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
