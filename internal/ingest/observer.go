package ingest

import "github.com/nerrad567/irrigation-core/internal/telemetry"

// Observer is notified after a record has been durably written.
//
// Implementations are called from the dispatcher workers and must be safe
// for concurrent use. They must not block: slow sinks should buffer.
type Observer interface {
	OnReading(r *telemetry.Reading)
	OnRelayEvent(e *telemetry.RelayEvent)
	OnAlert(a *telemetry.Alert)
}

// Observers fans a notification out to every member in order.
type Observers []Observer

func (o Observers) OnReading(r *telemetry.Reading) {
	for _, obs := range o {
		obs.OnReading(r)
	}
}

func (o Observers) OnRelayEvent(e *telemetry.RelayEvent) {
	for _, obs := range o {
		obs.OnRelayEvent(e)
	}
}

func (o Observers) OnAlert(a *telemetry.Alert) {
	for _, obs := range o {
		obs.OnAlert(a)
	}
}

type noopObserver struct{}

func (noopObserver) OnReading(*telemetry.Reading)       {}
func (noopObserver) OnRelayEvent(*telemetry.RelayEvent) {}
func (noopObserver) OnAlert(*telemetry.Alert)           {}
