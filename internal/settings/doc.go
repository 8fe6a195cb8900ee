// Package settings stores the runtime-tunable irrigation settings: the
// controller's moisture band and sampling interval, and the alert
// thresholds consulted for every reading.
//
// Every value is validated before it is written (percentages in [0, 100],
// the interval in [1000, 60000] ms). Store.CurrentThresholds is the
// threshold source for alert evaluation and always reads the table.
package settings
