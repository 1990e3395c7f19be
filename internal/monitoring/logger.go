package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warning kinds for data-quality warnings. Each maps to a label value of
// DataQualityWarnings.
const (
	WarnDuplicateLabel  = "duplicate_label"
	WarnEmptyPeriod     = "empty_period"
	WarnPointOutside    = "point_outside_raster"
	WarnPointNodata     = "point_nodata"
	WarnWindUnavailable = "wind_unavailable"
	WarnHandUnavailable = "hand_unavailable"
)

// Warnf records a data-quality warning: processing continues, the event
// is logged with a [data-quality] prefix and counted by kind.
func Warnf(kind, format string, v ...interface{}) {
	DataQualityWarnings.WithLabelValues(kind).Inc()
	Logf("[data-quality] "+kind+": "+format, v...)
}
