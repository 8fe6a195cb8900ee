package telemetry

import "errors"

var (
	// ErrAlertNotFound is returned when marking an alert that does not exist.
	ErrAlertNotFound = errors.New("telemetry: alert not found")

	// ErrInvalidRecord is returned when a record fails basic validation
	// before it is written.
	ErrInvalidRecord = errors.New("telemetry: invalid record")
)
