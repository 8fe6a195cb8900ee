package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when the broker session is not established.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps a failed connection attempt.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectTimeout is returned when an attempt exceeds the connect timeout.
	ErrConnectTimeout = errors.New("mqtt: connect timed out")

	// ErrSubscribeFailed is returned when a subscription is not acknowledged.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrAlreadyStarted is returned by Handle and Start after Start.
	ErrAlreadyStarted = errors.New("mqtt: connection already started")

	// ErrStopped is returned once the connection has been stopped.
	ErrStopped = errors.New("mqtt: connection stopped")
)

// ErrTimeout is returned when the broker does not acknowledge an operation in time.
var ErrTimeout = errors.New("mqtt: operation timed out")
