// Package api implements the HTTP REST API and WebSocket feed for the
// irrigation core.
//
// This package provides:
//   - Read endpoints for readings, relay events, alerts, statistics and charts
//   - Write endpoints for manual readings, alert acknowledgement and settings
//   - A WebSocket hub that pushes stored records and broker state to clients
//   - Prometheus exposition at /metrics
//
// # Architecture
//
// The server reads through the SQLite repositories the ingestion pipeline
// writes to. Manual readings enter the same pipeline as broker messages, so
// they raise alerts and reach live clients the same way. Settings that the
// field controller consumes are republished to the broker as a retained
// JSON snapshot when they change.
//
// # Security
//
// Write routes require a Bearer JWT signed with security.jwt.secret (see
// package auth). With no secret configured they are open and a warning is
// logged at start-up. Read routes and the WebSocket feed are unauthenticated.
//
// # Live Feed
//
// GET /api/v1/ws upgrades to a JSON feed. The optional channels query
// parameter (comma separated) selects from reading.created, relay.changed,
// alert.created and broker.state; all are sent by default. The first frame
// is a hello carrying the subscribed channels and the last broker state.
// Events carry a hub-wide sequence number, so a gap means a client missed
// or was not subscribed to an event. Clients may send subscribe,
// unsubscribe and ping requests. A client whose queue stays full is
// disconnected.
//
// # Graceful Degradation
//
// The server runs while the broker is down: reads, writes and the live feed
// keep working, only the device configuration push is skipped.
package api
