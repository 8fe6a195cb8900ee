package ingest

import "errors"

// Domain errors for the ingestion pipeline.
var (
	// ErrParse is returned when a reading payload is not a finite decimal number.
	ErrParse = errors.New("ingest: payload is not a moisture percentage")

	// ErrPersistence is returned when the gateway fails a read or write.
	// The message is abandoned.
	ErrPersistence = errors.New("ingest: persistence failure")

	// ErrConfiguration marks thresholds that could not be read or parsed.
	// It is only logged; evaluation continues on defaults.
	ErrConfiguration = errors.New("ingest: thresholds unavailable")

	// ErrUnknownTopic is returned by the Router for topics it has no entry for.
	ErrUnknownTopic = errors.New("ingest: unknown topic")
)
