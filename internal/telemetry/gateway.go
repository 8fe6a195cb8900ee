package telemetry

import "context"

// Gateway is the durable store the ingestion pipeline writes through.
//
// Append operations are atomic per record and assign the ID. Implementations
// must be safe for concurrent use.
type Gateway interface {
	AppendReading(ctx context.Context, r *Reading) error
	AppendRelayEvent(ctx context.Context, e *RelayEvent) error
	AppendAlert(ctx context.Context, a *Alert) error

	// LatestReading returns the most recent reading by timestamp, or nil
	// when no reading has been stored.
	LatestReading(ctx context.Context) (*Reading, error)

	// HasUnreadAlert reports whether an unread alert of kind exists.
	HasUnreadAlert(ctx context.Context, kind AlertKind) (bool, error)
}
