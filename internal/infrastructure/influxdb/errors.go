package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// The service runs without the mirror.
	ErrDisabled = errors.New("influxdb: mirror disabled")

	// ErrConnectionFailed wraps configuration and ping failures from Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: client closed")
)
