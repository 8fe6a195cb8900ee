// Package mqtt maintains the broker session for the irrigation core.
//
// A Connection subscribes to the telemetry topics published by the field
// controller and keeps that session alive for the life of the process.
//
// # Reconnection
//
// paho's built-in reconnect is disabled. The Connection runs its own
// supervisor so that every transition is visible to status endpoints:
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connecting ...
//
// Failed attempts and lost sessions are retried at a fixed interval
// (mqtt.reconnect.interval, default 5s) with no attempt limit. Each attempt
// is bounded by mqtt.connect_timeout. Subscriptions are re-issued on every
// successful connect since sessions are clean.
//
// # Handlers
//
// Handlers are registered with Handle before Start and receive the topic,
// the raw payload and the time the message reached the client. They run on
// paho's callback goroutines; the ingest dispatcher only enqueues from them.
// A panicking handler is recovered and logged.
//
// # Usage
//
//	conn := mqtt.NewConnection(cfg.MQTT, mqtt.WithLogger(logger))
//	_ = conn.Handle(cfg.MQTT.Topics.Readings, dispatcher.Enqueue)
//	if err := conn.Start(ctx); err != nil {
//	    return err
//	}
//	defer conn.Stop()
//
// Publish is best-effort and only used for the retained device config.
package mqtt
