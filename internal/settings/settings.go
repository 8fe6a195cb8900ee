package settings

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Setting names.
const (
	MoistureMin       = "moisture_min"
	MoistureMax       = "moisture_max"
	ReadIntervalMS    = "read_interval_ms"
	AlertMoistureLow  = "alert_moisture_low"
	AlertMoistureHigh = "alert_moisture_high"
)

var (
	// ErrSettingNotFound is returned for an unknown setting name.
	ErrSettingNotFound = errors.New("settings: setting not found")

	// ErrInvalidValue is returned when a value fails its setting's rule.
	ErrInvalidValue = errors.New("settings: invalid value")

	// ErrThresholdUnparseable is returned when a stored alert threshold is
	// not a finite number.
	ErrThresholdUnparseable = errors.New("settings: threshold unparseable")
)

// Setting is one named runtime setting.
type Setting struct {
	Name        string    `json:"name"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DeviceConfig is the subset of settings pushed to the field controller.
type DeviceConfig struct {
	MoistureMin    float64 `json:"moisture_min"`
	MoistureMax    float64 `json:"moisture_max"`
	ReadIntervalMS int     `json:"read_interval_ms"`
}

// rule validates and canonicalises a raw value.
type rule func(raw string) (string, error)

// percent accepts a finite number in [0, 100].
func percent(raw string) (string, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("%w: %q is not a number", ErrInvalidValue, raw)
	}
	if v < 0 || v > 100 {
		return "", fmt.Errorf("%w: %v must be between 0 and 100", ErrInvalidValue, v)
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

// intervalMS accepts a whole number of milliseconds in [1000, 60000].
func intervalMS(raw string) (string, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a whole number", ErrInvalidValue, raw)
	}
	if v < 1000 || v > 60000 {
		return "", fmt.Errorf("%w: %d must be between 1000 and 60000", ErrInvalidValue, v)
	}
	return strconv.Itoa(v), nil
}

var rules = map[string]rule{
	MoistureMin:       percent,
	MoistureMax:       percent,
	ReadIntervalMS:    intervalMS,
	AlertMoistureLow:  percent,
	AlertMoistureHigh: percent,
}

// Defaults are the factory values restored by Reset.
var Defaults = map[string]string{
	MoistureMin:       "30",
	MoistureMax:       "60",
	ReadIntervalMS:    "5000",
	AlertMoistureLow:  "25",
	AlertMoistureHigh: "70",
}

// Validate checks value against the rule for name and returns its
// canonical form.
func Validate(name, value string) (string, error) {
	check, ok := rules[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSettingNotFound, name)
	}
	return check(value)
}

// IsDeviceSetting reports whether changes to name must be pushed to the
// field controller.
func IsDeviceSetting(name string) bool {
	return name == MoistureMin || name == MoistureMax || name == ReadIntervalMS
}
