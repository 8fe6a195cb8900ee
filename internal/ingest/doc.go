// Package ingest turns broker messages into durable telemetry records.
//
// Messages flow through three stages:
//
//	mqtt.Connection -> Dispatcher -> Router -> Processor -> telemetry.Gateway
//
// The Dispatcher keeps one FIFO queue and one worker per known topic, so
// messages on a topic are processed in arrival order and relay events are
// never processed concurrently with each other. Readings and relay events
// run side by side; relay correlation reads the latest reading from the
// gateway and is a best-effort snapshot.
//
// # Processors
//
//   - ReadingProcessor parses a moisture percentage, derives the analog
//     value and relay mirror, appends the reading and asks the
//     AlertEvaluator whether a threshold was crossed.
//   - RelayEventProcessor normalises the relay token, correlates it with
//     the latest reading and appends a relay event with a reason.
//   - AlertEvaluator reads the thresholds on every call and falls back to
//     configured defaults when they cannot be read.
//
// # Failure policy
//
// Every failure is terminal for the message and never for the process.
// Malformed payloads return ErrParse, gateway failures ErrPersistence.
// Nothing is retried: the next reading arrives within seconds.
//
// Observers are notified only after a record has been written.
package ingest
