// Package telemetry defines the irrigation records (readings, relay events,
// alerts) and their SQLite persistence.
//
// The Gateway interface is the write path used by the ingestion pipeline.
// SQLiteRepository implements it and also serves the read-side queries
// behind the HTTP API: paginated history, period statistics, hourly chart
// buckets and alert acknowledgement.
//
// Timestamps are stored in database.TimeLayout. "Latest" always means
// greatest timestamp, with the insert ID breaking ties.
package telemetry
