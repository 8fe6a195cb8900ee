package ingest

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nerrad567/irrigation-core/internal/telemetry"
)

// Fallback thresholds when neither the store nor configuration provides them.
const (
	DefaultLowThreshold  = 25.0
	DefaultHighThreshold = 70.0
)

// ThresholdStore supplies the current alert thresholds.
type ThresholdStore interface {
	CurrentThresholds(ctx context.Context) (telemetry.Thresholds, error)
}

// AlertPolicy tunes the evaluator.
type AlertPolicy struct {
	// Defaults apply when the store fails or returns non-finite values.
	Defaults telemetry.Thresholds

	// SuppressUnread skips a new alert while an unread alert of the same
	// kind exists. Off by default: every breaching reading alerts.
	SuppressUnread bool
}

// DefaultAlertPolicy returns the 25/70 defaults without suppression.
func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{
		Defaults: telemetry.Thresholds{Low: DefaultLowThreshold, High: DefaultHighThreshold},
	}
}

// Classify returns the alert a value raises against t, or nil. The low
// branch is checked first, so it wins when the thresholds are inverted.
// The returned alert has no timestamp.
func Classify(value float64, t telemetry.Thresholds) *telemetry.Alert {
	switch {
	case value <= t.Low:
		return &telemetry.Alert{
			Kind:    telemetry.AlertLowMoisture,
			Level:   telemetry.LevelHigh,
			Message: fmt.Sprintf("moisture low: %s%% (threshold %s%%)", formatPercent(value), formatPercent(t.Low)),
		}
	case value >= t.High:
		return &telemetry.Alert{
			Kind:    telemetry.AlertHighMoisture,
			Level:   telemetry.LevelMedium,
			Message: fmt.Sprintf("moisture high: %s%% (threshold %s%%)", formatPercent(value), formatPercent(t.High)),
		}
	}
	return nil
}

// AlertEvaluator raises threshold alerts for stored readings.
type AlertEvaluator struct {
	gateway    telemetry.Gateway
	thresholds ThresholdStore
	policy     AlertPolicy
	observer   Observer
	logger     Logger
}

// NewAlertEvaluator creates an evaluator. Non-finite policy defaults are
// replaced by DefaultLowThreshold and DefaultHighThreshold.
func NewAlertEvaluator(gateway telemetry.Gateway, thresholds ThresholdStore, policy AlertPolicy) *AlertEvaluator {
	if !finite(policy.Defaults) {
		policy.Defaults = DefaultAlertPolicy().Defaults
	}
	return &AlertEvaluator{
		gateway:    gateway,
		thresholds: thresholds,
		policy:     policy,
		observer:   noopObserver{},
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the evaluator.
func (e *AlertEvaluator) SetLogger(logger Logger) {
	e.logger = logger
}

// SetObserver sets the observer notified of stored alerts.
func (e *AlertEvaluator) SetObserver(observer Observer) {
	e.observer = observer
}

// Evaluate checks value against the current thresholds and stores at most
// one alert. It returns the stored alert, or nil when nothing fired or the
// alert was suppressed. A storage failure is returned wrapped in
// ErrPersistence and the alert is not retried.
func (e *AlertEvaluator) Evaluate(ctx context.Context, value float64, at time.Time) (*telemetry.Alert, error) {
	alert := Classify(value, e.currentThresholds(ctx))
	if alert == nil {
		return nil, nil
	}

	if e.policy.SuppressUnread {
		unread, err := e.gateway.HasUnreadAlert(ctx, alert.Kind)
		switch {
		case err != nil:
			e.logger.Warn("alert suppression lookup failed, raising alert", "kind", alert.Kind, "error", err)
		case unread:
			e.logger.Debug("alert suppressed, unread alert of same kind exists", "kind", alert.Kind, "value", value)
			return nil, nil
		}
	}

	alert.Timestamp = at
	if err := e.gateway.AppendAlert(ctx, alert); err != nil {
		e.logger.Error("alert not persisted", "kind", alert.Kind, "value", value, "error", err)
		return nil, fmt.Errorf("%w: appending alert: %w", ErrPersistence, err)
	}

	e.logger.Info("alert raised", "id", alert.ID, "kind", alert.Kind, "level", alert.Level, "value", value)
	e.observer.OnAlert(alert)
	return alert, nil
}

// currentThresholds reads the store, degrading to the policy defaults.
func (e *AlertEvaluator) currentThresholds(ctx context.Context) telemetry.Thresholds {
	if e.thresholds == nil {
		return e.policy.Defaults
	}

	t, err := e.thresholds.CurrentThresholds(ctx)
	if err == nil && !finite(t) {
		err = fmt.Errorf("non-finite thresholds %v/%v", t.Low, t.High)
	}
	if err != nil {
		e.logger.Warn("alert thresholds unavailable, using defaults",
			"degraded", true,
			"low", e.policy.Defaults.Low,
			"high", e.policy.Defaults.High,
			"error", fmt.Errorf("%w: %w", ErrConfiguration, err),
		)
		return e.policy.Defaults
	}
	return t
}

func finite(t telemetry.Thresholds) bool {
	for _, v := range []float64{t.Low, t.High} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// formatPercent renders v in its shortest form: 18, 42.5.
func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
